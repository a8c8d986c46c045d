package measurements

import (
	"context"
	"errors"
	"io"
	"net"
	"os"

	"github.com/ipfs/go-datastore"
	"go.opentelemetry.io/otel/attribute"
)

var (
	AttrStatusSuccess       = attribute.String("status", "success")
	AttrStatusError         = attribute.String("status", "error-other")
	AttrStatusPanic         = attribute.String("status", "error-panic")
	AttrStatusCanceled      = attribute.String("status", "error-canceled")
	AttrStatusTimeout       = attribute.String("status", "error-timeout")
	AttrStatusClosed        = attribute.String("status", "error-closed")
	AttrStatusInternalError = attribute.String("status", "error-internal")
	AttrStatusNotFound      = attribute.String("status", "error-not-found")

	AttrDialSucceeded = attribute.Key("dial-succeeded")
	AttrMessageType   = attribute.Key("message-type")
	AttrDirection     = attribute.Key("direction")
)

// Status classifies err into one of the status attributes, taking the
// context's own error into account.
func Status(ctx context.Context, err error) attribute.KeyValue {
	switch cErr := ctx.Err(); {
	case err == nil:
		return AttrStatusSuccess
	case errors.Is(err, datastore.ErrNotFound):
		return AttrStatusNotFound
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return AttrStatusClosed
	case os.IsTimeout(err),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(cErr, context.DeadlineExceeded):
		return AttrStatusTimeout
	case errors.Is(cErr, context.Canceled):
		return AttrStatusCanceled
	default:
		return AttrStatusError
	}
}
