package wire

import (
	"fmt"
)

var _ error = (*PayloadError)(nil)

// PayloadError reports a payload that does not decode as its declared message
// type.
type PayloadError struct {
	Type MessageType
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("malformed %s payload: %v", e.Type, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// Decode decodes the payload of a message of type t.
func Decode(t MessageType, payload []byte) (Message, error) {
	var m Message
	switch t {
	case TypeManifests:
		m = new(Manifests)
	case TypePing:
		m = new(Ping)
	case TypeCluster:
		m = new(Cluster)
	case TypeEndpoints:
		m = new(Endpoints)
	case TypeTransaction:
		m = new(Transaction)
	case TypeGetLedger:
		m = new(GetLedger)
	case TypeLedgerData:
		m = new(LedgerData)
	case TypeProposeSet:
		m = new(ProposeSet)
	case TypeStatusChange:
		m = new(StatusChange)
	case TypeHaveTransactionSet:
		m = new(HaveTransactionSet)
	case TypeValidation:
		m = new(Validation)
	case TypeGetObjectByHash:
		m = new(GetObjectByHash)
	case TypeGetShardInfo:
		m = new(GetShardInfo)
	case TypeShardInfo:
		m = new(ShardInfo)
	case TypeGetPeerShardInfo:
		m = new(GetPeerShardInfo)
	case TypePeerShardInfo:
		m = new(PeerShardInfo)
	case TypeValidatorList:
		m = new(ValidatorList)
	default:
		return nil, fmt.Errorf("message type %d: %w", uint16(t), ErrUnknownMessageType)
	}
	if err := m.unmarshalProto(payload); err != nil {
		return nil, &PayloadError{Type: t, Err: err}
	}
	return m, nil
}

// DecodeFrame decodes the payload of a frame.
func DecodeFrame(f Frame) (Message, error) {
	return Decode(f.Type, f.Payload)
}

// Encode returns the protobuf payload of m, without the envelope header.
func Encode(m Message) []byte {
	return m.appendProto(nil)
}

func (m *Manifests) appendProto(b []byte) []byte {
	for _, stobject := range m.List {
		inner := appendBytes(nil, 1, stobject)
		b = appendBytes(b, 1, inner)
	}
	return appendOptBool(b, 2, m.History)
}

func (m *Manifests) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			var raw []byte
			if raw, err = f.bytes(); err != nil {
				return err
			}
			var stobject []byte
			err = rangeFields(raw, func(inner protoField) (err error) {
				if inner.num == 1 {
					stobject, err = inner.bytes()
				}
				return err
			})
			m.List = append(m.List, stobject)
		case 2:
			m.History, err = f.bool()
		}
		return err
	})
}

func (m *Ping) appendProto(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.Kind))
	b = appendOptVarint(b, 2, uint64(m.Seq))
	b = appendOptVarint(b, 3, m.PingTime)
	return appendOptVarint(b, 4, m.NetTime)
}

func (m *Ping) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			var v uint32
			v, err = f.uint32()
			m.Kind = PingKind(v)
		case 2:
			m.Seq, err = f.uint32()
		case 3:
			m.PingTime, err = f.uint64()
		case 4:
			m.NetTime, err = f.uint64()
		}
		return err
	})
}

func (n *ClusterNode) appendProto(b []byte) []byte {
	b = appendOptString(b, 1, n.PublicKey)
	b = appendVarint(b, 2, uint64(n.ReportTime))
	b = appendVarint(b, 3, uint64(n.NodeLoad))
	b = appendOptString(b, 4, n.NodeName)
	return appendOptString(b, 5, n.Address)
}

func (n *ClusterNode) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			n.PublicKey, err = f.string()
		case 2:
			n.ReportTime, err = f.uint32()
		case 3:
			n.NodeLoad, err = f.uint32()
		case 4:
			n.NodeName, err = f.string()
		case 5:
			n.Address, err = f.string()
		}
		return err
	})
}

func (s *LoadSource) appendProto(b []byte) []byte {
	b = appendOptString(b, 1, s.Name)
	b = appendVarint(b, 2, uint64(s.Cost))
	return appendOptVarint(b, 3, uint64(s.Count))
}

func (s *LoadSource) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			s.Name, err = f.string()
		case 2:
			s.Cost, err = f.uint32()
		case 3:
			s.Count, err = f.uint32()
		}
		return err
	})
}

func (m *Cluster) appendProto(b []byte) []byte {
	for i := range m.Nodes {
		b = appendMessage(b, 1, &m.Nodes[i])
	}
	for i := range m.LoadSources {
		b = appendMessage(b, 2, &m.LoadSources[i])
	}
	return b
}

func (m *Cluster) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) error {
		switch f.num {
		case 1:
			var node ClusterNode
			if err := f.message(&node); err != nil {
				return err
			}
			m.Nodes = append(m.Nodes, node)
		case 2:
			var source LoadSource
			if err := f.message(&source); err != nil {
				return err
			}
			m.LoadSources = append(m.LoadSources, source)
		}
		return nil
	})
}

func (e *Endpoint) appendProto(b []byte) []byte {
	b = appendOptString(b, 1, e.Address)
	return appendVarint(b, 2, uint64(e.Hops))
}

func (e *Endpoint) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			e.Address, err = f.string()
		case 2:
			e.Hops, err = f.uint32()
		}
		return err
	})
}

func (m *Endpoints) appendProto(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.Version))
	for i := range m.Endpoints {
		b = appendMessage(b, 3, &m.Endpoints[i])
	}
	return b
}

func (m *Endpoints) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			m.Version, err = f.uint32()
		case 3:
			var e Endpoint
			if err = f.message(&e); err == nil {
				m.Endpoints = append(m.Endpoints, e)
			}
		}
		return err
	})
}

func (m *Transaction) appendProto(b []byte) []byte {
	b = appendBytes(b, 1, m.Raw)
	b = appendVarint(b, 2, uint64(m.Status))
	b = appendOptVarint(b, 3, m.ReceiveTimestamp)
	return appendOptBool(b, 4, m.Deferred)
}

func (m *Transaction) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			m.Raw, err = f.bytes()
		case 2:
			var v uint32
			v, err = f.uint32()
			m.Status = TransactionStatus(v)
		case 3:
			m.ReceiveTimestamp, err = f.uint64()
		case 4:
			m.Deferred, err = f.bool()
		}
		return err
	})
}

func (m *GetLedger) appendProto(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.InfoType))
	b = appendOptVarint(b, 2, uint64(m.LedgerType))
	b = appendOptBytes(b, 3, m.LedgerHash)
	b = appendOptVarint(b, 4, uint64(m.LedgerSeq))
	for _, id := range m.NodeIDs {
		b = appendBytes(b, 5, id)
	}
	b = appendOptVarint(b, 6, m.RequestCookie)
	b = appendOptVarint(b, 7, uint64(m.QueryType))
	return appendOptVarint(b, 8, uint64(m.QueryDepth))
}

func (m *GetLedger) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			m.InfoType, err = f.uint32()
		case 2:
			m.LedgerType, err = f.uint32()
		case 3:
			m.LedgerHash, err = f.bytes()
		case 4:
			m.LedgerSeq, err = f.uint32()
		case 5:
			var id []byte
			if id, err = f.bytes(); err == nil {
				m.NodeIDs = append(m.NodeIDs, id)
			}
		case 6:
			m.RequestCookie, err = f.uint64()
		case 7:
			m.QueryType, err = f.uint32()
		case 8:
			m.QueryDepth, err = f.uint32()
		}
		return err
	})
}

func (n *LedgerNode) appendProto(b []byte) []byte {
	b = appendBytes(b, 1, n.Data)
	return appendOptBytes(b, 2, n.ID)
}

func (n *LedgerNode) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			n.Data, err = f.bytes()
		case 2:
			n.ID, err = f.bytes()
		}
		return err
	})
}

func (m *LedgerData) appendProto(b []byte) []byte {
	b = appendBytes(b, 1, m.LedgerHash)
	b = appendVarint(b, 2, uint64(m.LedgerSeq))
	b = appendVarint(b, 3, uint64(m.InfoType))
	for i := range m.Nodes {
		b = appendMessage(b, 4, &m.Nodes[i])
	}
	b = appendOptVarint(b, 5, uint64(m.RequestCookie))
	return appendOptVarint(b, 6, uint64(m.Error))
}

func (m *LedgerData) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			m.LedgerHash, err = f.bytes()
		case 2:
			m.LedgerSeq, err = f.uint32()
		case 3:
			m.InfoType, err = f.uint32()
		case 4:
			var n LedgerNode
			if err = f.message(&n); err == nil {
				m.Nodes = append(m.Nodes, n)
			}
		case 5:
			m.RequestCookie, err = f.uint32()
		case 6:
			m.Error, err = f.uint32()
		}
		return err
	})
}

func (m *ProposeSet) appendProto(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.ProposeSeq))
	b = appendBytes(b, 2, m.CurrentTxHash)
	b = appendBytes(b, 3, m.NodePubKey)
	b = appendVarint(b, 4, uint64(m.CloseTime))
	b = appendBytes(b, 5, m.Signature)
	b = appendBytes(b, 6, m.PreviousLedger)
	for _, tx := range m.AddedTransactions {
		b = appendBytes(b, 10, tx)
	}
	for _, tx := range m.RemovedTransactions {
		b = appendBytes(b, 11, tx)
	}
	return appendOptVarint(b, 12, uint64(m.Hops))
}

func (m *ProposeSet) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		var tx []byte
		switch f.num {
		case 1:
			m.ProposeSeq, err = f.uint32()
		case 2:
			m.CurrentTxHash, err = f.bytes()
		case 3:
			m.NodePubKey, err = f.bytes()
		case 4:
			m.CloseTime, err = f.uint32()
		case 5:
			m.Signature, err = f.bytes()
		case 6:
			m.PreviousLedger, err = f.bytes()
		case 10:
			if tx, err = f.bytes(); err == nil {
				m.AddedTransactions = append(m.AddedTransactions, tx)
			}
		case 11:
			if tx, err = f.bytes(); err == nil {
				m.RemovedTransactions = append(m.RemovedTransactions, tx)
			}
		case 12:
			m.Hops, err = f.uint32()
		}
		return err
	})
}

func (m *StatusChange) appendProto(b []byte) []byte {
	b = appendOptVarint(b, 1, uint64(m.NewStatus))
	b = appendOptVarint(b, 2, uint64(m.NewEvent))
	b = appendOptVarint(b, 3, uint64(m.LedgerSeq))
	b = appendOptBytes(b, 4, m.LedgerHash)
	b = appendOptBytes(b, 5, m.LedgerHashPrevious)
	b = appendOptVarint(b, 6, m.NetworkTime)
	b = appendOptVarint(b, 7, uint64(m.FirstSeq))
	return appendOptVarint(b, 8, uint64(m.LastSeq))
}

func (m *StatusChange) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		var v uint32
		switch f.num {
		case 1:
			v, err = f.uint32()
			m.NewStatus = NodeStatus(v)
		case 2:
			v, err = f.uint32()
			m.NewEvent = NodeEvent(v)
		case 3:
			m.LedgerSeq, err = f.uint32()
		case 4:
			m.LedgerHash, err = f.bytes()
		case 5:
			m.LedgerHashPrevious, err = f.bytes()
		case 6:
			m.NetworkTime, err = f.uint64()
		case 7:
			m.FirstSeq, err = f.uint32()
		case 8:
			m.LastSeq, err = f.uint32()
		}
		return err
	})
}

func (m *HaveTransactionSet) appendProto(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.Status))
	return appendBytes(b, 2, m.Hash)
}

func (m *HaveTransactionSet) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			var v uint32
			v, err = f.uint32()
			m.Status = TxSetStatus(v)
		case 2:
			m.Hash, err = f.bytes()
		}
		return err
	})
}

func (m *Validation) appendProto(b []byte) []byte {
	b = appendBytes(b, 1, m.Blob)
	return appendOptVarint(b, 3, uint64(m.Hops))
}

func (m *Validation) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			m.Blob, err = f.bytes()
		case 3:
			m.Hops, err = f.uint32()
		}
		return err
	})
}

func (o *IndexedObject) appendProto(b []byte) []byte {
	b = appendOptBytes(b, 1, o.Hash)
	b = appendOptBytes(b, 2, o.NodeID)
	b = appendOptBytes(b, 3, o.Index)
	b = appendOptBytes(b, 4, o.Data)
	return appendOptVarint(b, 5, uint64(o.LedgerSeq))
}

func (o *IndexedObject) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			o.Hash, err = f.bytes()
		case 2:
			o.NodeID, err = f.bytes()
		case 3:
			o.Index, err = f.bytes()
		case 4:
			o.Data, err = f.bytes()
		case 5:
			o.LedgerSeq, err = f.uint32()
		}
		return err
	})
}

func (m *GetObjectByHash) appendProto(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.ObjectType))
	b = appendVarint(b, 2, boolToUint(m.Query))
	b = appendOptVarint(b, 3, uint64(m.Seq))
	b = appendOptBytes(b, 4, m.LedgerHash)
	b = appendOptBool(b, 5, m.Fat)
	for i := range m.Objects {
		b = appendMessage(b, 6, &m.Objects[i])
	}
	return b
}

func (m *GetObjectByHash) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			m.ObjectType, err = f.uint32()
		case 2:
			m.Query, err = f.bool()
		case 3:
			m.Seq, err = f.uint32()
		case 4:
			m.LedgerHash, err = f.bytes()
		case 5:
			m.Fat, err = f.bool()
		case 6:
			var o IndexedObject
			if err = f.message(&o); err == nil {
				m.Objects = append(m.Objects, o)
			}
		}
		return err
	})
}

func (m *GetShardInfo) appendProto(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.Hops))
	b = appendOptBool(b, 2, m.LastLink)
	for _, p := range m.PeerChain {
		b = appendVarint(b, 3, uint64(p))
	}
	return b
}

func (m *GetShardInfo) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			m.Hops, err = f.uint32()
		case 2:
			m.LastLink, err = f.bool()
		case 3:
			m.PeerChain, err = f.appendUint32s(m.PeerChain)
		}
		return err
	})
}

func (m *ShardInfo) appendProto(b []byte) []byte {
	b = appendBytes(b, 1, []byte(m.ShardIndexes))
	b = appendOptBytes(b, 2, m.NodePubKey)
	b = appendOptString(b, 3, m.Endpoint)
	b = appendOptBool(b, 4, m.LastLink)
	for _, p := range m.PeerChain {
		b = appendVarint(b, 5, uint64(p))
	}
	return b
}

func (m *ShardInfo) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			m.ShardIndexes, err = f.string()
		case 2:
			m.NodePubKey, err = f.bytes()
		case 3:
			m.Endpoint, err = f.string()
		case 4:
			m.LastLink, err = f.bool()
		case 5:
			m.PeerChain, err = f.appendUint32s(m.PeerChain)
		}
		return err
	})
}

// link is the single-field TMLink message wrapping a node public key.
type link []byte

func (l *link) appendProto(b []byte) []byte { return appendBytes(b, 1, *l) }

func (l *link) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		if f.num == 1 {
			*l, err = f.bytes()
		}
		return err
	})
}

func (m *GetPeerShardInfo) appendProto(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.Hops))
	b = appendOptBool(b, 2, m.Relayed)
	for _, key := range m.PeerChain {
		l := link(key)
		b = appendMessage(b, 3, &l)
	}
	return b
}

func (m *GetPeerShardInfo) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			m.Hops, err = f.uint32()
		case 2:
			m.Relayed, err = f.bool()
		case 3:
			var l link
			if err = f.message(&l); err == nil {
				m.PeerChain = append(m.PeerChain, []byte(l))
			}
		}
		return err
	})
}

func (m *PeerShardInfo) appendProto(b []byte) []byte {
	b = appendBytes(b, 1, []byte(m.ShardIndexes))
	b = appendOptBytes(b, 2, m.NodePubKey)
	b = appendOptString(b, 3, m.Endpoint)
	b = appendOptBool(b, 4, m.LastLink)
	for _, key := range m.PeerChain {
		l := link(key)
		b = appendMessage(b, 5, &l)
	}
	return b
}

func (m *PeerShardInfo) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			m.ShardIndexes, err = f.string()
		case 2:
			m.NodePubKey, err = f.bytes()
		case 3:
			m.Endpoint, err = f.string()
		case 4:
			m.LastLink, err = f.bool()
		case 5:
			var l link
			if err = f.message(&l); err == nil {
				m.PeerChain = append(m.PeerChain, []byte(l))
			}
		}
		return err
	})
}

func (m *ValidatorList) appendProto(b []byte) []byte {
	b = appendBytes(b, 1, m.Manifest)
	b = appendBytes(b, 2, m.Blob)
	b = appendBytes(b, 3, m.Signature)
	return appendVarint(b, 4, uint64(m.Version))
}

func (m *ValidatorList) unmarshalProto(b []byte) error {
	return rangeFields(b, func(f protoField) (err error) {
		switch f.num {
		case 1:
			m.Manifest, err = f.bytes()
		case 2:
			m.Blob, err = f.bytes()
		case 3:
			m.Signature, err = f.bytes()
		case 4:
			m.Version, err = f.uint32()
		}
		return err
	})
}

func boolToUint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
