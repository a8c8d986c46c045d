package checker

import (
	"github.com/byzfuzz/rmo/codec"
	"github.com/byzfuzz/rmo/model"
	"github.com/byzfuzz/rmo/validation"
	"github.com/byzfuzz/rmo/wire"
)

// Observation is one delivered message as seen by the checks. Decoding of
// embedded blobs is shared between checks and done at most once.
type Observation struct {
	From    model.NodeIndex
	Message wire.Message

	validators *model.ValidatorSet

	validationDone bool
	validation     *validation.Parsed
	signer         model.NodeIndex
	signerKnown    bool

	transactionDone bool
	transaction     *codec.Object
}

// NewObservation wraps a message sent by from.
func NewObservation(validators *model.ValidatorSet, from model.NodeIndex, msg wire.Message) *Observation {
	return &Observation{From: from, Message: msg, validators: validators}
}

// Validation decodes the carried validation. Messages that are not
// validations, or whose blob does not decode, carry no signal.
func (o *Observation) Validation() (*validation.Parsed, bool) {
	if !o.validationDone {
		o.validationDone = true
		if m, ok := o.Message.(*wire.Validation); ok {
			parsed, err := validation.Parse(m.Blob)
			if err != nil {
				log.Debugw("Undecodable validation treated as no signal", "from", o.From, "blob", codec.Blob(m.Blob), "err", err)
			} else {
				o.validation = parsed
				if o.validators != nil {
					o.signer, o.signerKnown = o.validators.IndexOf(parsed.NodePublic())
				}
			}
		}
	}
	return o.validation, o.validation != nil
}

// Signer resolves the validator that signed the carried validation.
func (o *Observation) Signer() (model.NodeIndex, bool) {
	if _, ok := o.Validation(); !ok {
		return 0, false
	}
	return o.signer, o.signerKnown
}

// Transaction decodes a committed transaction.
func (o *Observation) Transaction() (*codec.Object, bool) {
	if !o.transactionDone {
		o.transactionDone = true
		if m, ok := o.Message.(*wire.Transaction); ok && m.Status == wire.TxCommitted {
			obj, err := codec.Decode(m.Raw)
			if err != nil {
				log.Debugw("Undecodable transaction treated as no signal", "from", o.From, "err", err)
			} else {
				o.transaction = obj
			}
		}
	}
	return o.transaction, o.transaction != nil
}

// Accepted returns the carried accepted-ledger announcement.
func (o *Observation) Accepted() (*wire.StatusChange, bool) {
	m, ok := o.Message.(*wire.StatusChange)
	if !ok || m.NewEvent != wire.EventAcceptedLedger {
		return nil, false
	}
	return m, true
}
