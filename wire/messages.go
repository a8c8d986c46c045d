package wire

// Message is one decoded peer protocol message. The set of implementations is
// closed and mirrors the message type table.
type Message interface {
	Type() MessageType
	appendProto(b []byte) []byte
	unmarshalProto(b []byte) error
}

var (
	_ Message = (*Manifests)(nil)
	_ Message = (*Ping)(nil)
	_ Message = (*Cluster)(nil)
	_ Message = (*Endpoints)(nil)
	_ Message = (*Transaction)(nil)
	_ Message = (*GetLedger)(nil)
	_ Message = (*LedgerData)(nil)
	_ Message = (*ProposeSet)(nil)
	_ Message = (*StatusChange)(nil)
	_ Message = (*HaveTransactionSet)(nil)
	_ Message = (*Validation)(nil)
	_ Message = (*GetObjectByHash)(nil)
	_ Message = (*GetShardInfo)(nil)
	_ Message = (*ShardInfo)(nil)
	_ Message = (*GetPeerShardInfo)(nil)
	_ Message = (*PeerShardInfo)(nil)
	_ Message = (*ValidatorList)(nil)
)

type PingKind uint32

const (
	PingRequest PingKind = 0
	PingReply   PingKind = 1
)

type TransactionStatus uint32

const (
	TxNew            TransactionStatus = 1
	TxCurrent        TransactionStatus = 2
	TxCommitted      TransactionStatus = 3
	TxRejectConflict TransactionStatus = 4
	TxRejectInvalid  TransactionStatus = 5
	TxRejectFunds    TransactionStatus = 6
	TxHeldSeq        TransactionStatus = 7
	TxHeldLedger     TransactionStatus = 8
)

// NodeStatus is the operating mode a node announces in a StatusChange.
type NodeStatus uint32

const (
	StatusConnecting NodeStatus = 1
	StatusConnected  NodeStatus = 2
	StatusMonitoring NodeStatus = 3
	StatusValidating NodeStatus = 4
	StatusShutting   NodeStatus = 5
)

// NodeEvent is the consensus transition a node announces in a StatusChange.
type NodeEvent uint32

const (
	EventClosingLedger  NodeEvent = 1
	EventAcceptedLedger NodeEvent = 2
	EventSwitchedLedger NodeEvent = 3
	EventLostSync       NodeEvent = 4
)

func (e NodeEvent) String() string {
	switch e {
	case EventClosingLedger:
		return "ClosingLedger"
	case EventAcceptedLedger:
		return "AcceptedLedger"
	case EventSwitchedLedger:
		return "SwitchedLedger"
	case EventLostSync:
		return "LostSync"
	default:
		return "None"
	}
}

type TxSetStatus uint32

const (
	TxSetHave   TxSetStatus = 1
	TxSetCanGet TxSetStatus = 2
	TxSetNeed   TxSetStatus = 3
)

// Manifests carries serialized validator manifests.
type Manifests struct {
	List    [][]byte
	History bool
}

type Ping struct {
	Kind     PingKind
	Seq      uint32
	PingTime uint64
	NetTime  uint64
}

type ClusterNode struct {
	PublicKey  string
	ReportTime uint32
	NodeLoad   uint32
	NodeName   string
	Address    string
}

type LoadSource struct {
	Name  string
	Cost  uint32
	Count uint32
}

type Cluster struct {
	Nodes       []ClusterNode
	LoadSources []LoadSource
}

type Endpoint struct {
	Address string
	Hops    uint32
}

type Endpoints struct {
	Version   uint32
	Endpoints []Endpoint
}

// Transaction relays a serialized transaction and its local status.
type Transaction struct {
	Raw              []byte
	Status           TransactionStatus
	ReceiveTimestamp uint64
	Deferred         bool
}

type GetLedger struct {
	InfoType      uint32
	LedgerType    uint32
	LedgerHash    []byte
	LedgerSeq     uint32
	NodeIDs       [][]byte
	RequestCookie uint64
	QueryType     uint32
	QueryDepth    uint32
}

type LedgerNode struct {
	Data []byte
	ID   []byte
}

type LedgerData struct {
	LedgerHash    []byte
	LedgerSeq     uint32
	InfoType      uint32
	Nodes         []LedgerNode
	RequestCookie uint32
	Error         uint32
}

// ProposeSet is a consensus proposal for a transaction set.
type ProposeSet struct {
	ProposeSeq          uint32
	CurrentTxHash       []byte
	NodePubKey          []byte
	CloseTime           uint32
	Signature           []byte
	PreviousLedger      []byte
	AddedTransactions   [][]byte
	RemovedTransactions [][]byte
	Hops                uint32
}

// StatusChange announces a node's mode or consensus transition.
type StatusChange struct {
	NewStatus          NodeStatus
	NewEvent           NodeEvent
	LedgerSeq          uint32
	LedgerHash         []byte
	LedgerHashPrevious []byte
	NetworkTime        uint64
	FirstSeq           uint32
	LastSeq            uint32
}

type HaveTransactionSet struct {
	Status TxSetStatus
	Hash   []byte
}

// Validation carries a serialized signed validation blob.
type Validation struct {
	Blob []byte
	Hops uint32
}

type IndexedObject struct {
	Hash      []byte
	NodeID    []byte
	Index     []byte
	Data      []byte
	LedgerSeq uint32
}

type GetObjectByHash struct {
	ObjectType uint32
	Query      bool
	Seq        uint32
	LedgerHash []byte
	Fat        bool
	Objects    []IndexedObject
}

type GetShardInfo struct {
	Hops      uint32
	LastLink  bool
	PeerChain []uint32
}

type ShardInfo struct {
	ShardIndexes string
	NodePubKey   []byte
	Endpoint     string
	LastLink     bool
	PeerChain    []uint32
}

type GetPeerShardInfo struct {
	Hops      uint32
	Relayed   bool
	PeerChain [][]byte
}

type PeerShardInfo struct {
	ShardIndexes string
	NodePubKey   []byte
	Endpoint     string
	LastLink     bool
	PeerChain    [][]byte
}

type ValidatorList struct {
	Manifest  []byte
	Blob      []byte
	Signature []byte
	Version   uint32
}

func (*Manifests) Type() MessageType          { return TypeManifests }
func (*Ping) Type() MessageType               { return TypePing }
func (*Cluster) Type() MessageType            { return TypeCluster }
func (*Endpoints) Type() MessageType          { return TypeEndpoints }
func (*Transaction) Type() MessageType        { return TypeTransaction }
func (*GetLedger) Type() MessageType          { return TypeGetLedger }
func (*LedgerData) Type() MessageType         { return TypeLedgerData }
func (*ProposeSet) Type() MessageType         { return TypeProposeSet }
func (*StatusChange) Type() MessageType       { return TypeStatusChange }
func (*HaveTransactionSet) Type() MessageType { return TypeHaveTransactionSet }
func (*Validation) Type() MessageType         { return TypeValidation }
func (*GetObjectByHash) Type() MessageType    { return TypeGetObjectByHash }
func (*GetShardInfo) Type() MessageType       { return TypeGetShardInfo }
func (*ShardInfo) Type() MessageType          { return TypeShardInfo }
func (*GetPeerShardInfo) Type() MessageType   { return TypeGetPeerShardInfo }
func (*PeerShardInfo) Type() MessageType      { return TypePeerShardInfo }
func (*ValidatorList) Type() MessageType      { return TypeValidatorList }
