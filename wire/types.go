package wire

import "strconv"

// MessageType is the numeric message type carried in the envelope header.
type MessageType uint16

const (
	TypeManifests          MessageType = 2
	TypePing               MessageType = 3
	TypeCluster            MessageType = 5
	TypeEndpoints          MessageType = 15
	TypeTransaction        MessageType = 30
	TypeGetLedger          MessageType = 31
	TypeLedgerData         MessageType = 32
	TypeProposeSet         MessageType = 33
	TypeStatusChange       MessageType = 34
	TypeHaveTransactionSet MessageType = 35
	TypeValidation         MessageType = 41
	TypeGetObjectByHash    MessageType = 42
	TypeGetShardInfo       MessageType = 50
	TypeShardInfo          MessageType = 51
	TypeGetPeerShardInfo   MessageType = 52
	TypePeerShardInfo      MessageType = 53
	TypeValidatorList      MessageType = 54
)

var messageTypeNames = map[MessageType]string{
	TypeManifests:          "Manifests",
	TypePing:               "Ping",
	TypeCluster:            "Cluster",
	TypeEndpoints:          "Endpoints",
	TypeTransaction:        "Transaction",
	TypeGetLedger:          "GetLedger",
	TypeLedgerData:         "LedgerData",
	TypeProposeSet:         "ProposeSet",
	TypeStatusChange:       "StatusChange",
	TypeHaveTransactionSet: "HaveTransactionSet",
	TypeValidation:         "Validation",
	TypeGetObjectByHash:    "GetObjectByHash",
	TypeGetShardInfo:       "GetShardInfo",
	TypeShardInfo:          "ShardInfo",
	TypeGetPeerShardInfo:   "GetPeerShardInfo",
	TypePeerShardInfo:      "PeerShardInfo",
	TypeValidatorList:      "ValidatorList",
}

// MessageTypes lists every supported message type in ascending order.
var MessageTypes = []MessageType{
	TypeManifests, TypePing, TypeCluster, TypeEndpoints, TypeTransaction,
	TypeGetLedger, TypeLedgerData, TypeProposeSet, TypeStatusChange,
	TypeHaveTransactionSet, TypeValidation, TypeGetObjectByHash,
	TypeGetShardInfo, TypeShardInfo, TypeGetPeerShardInfo, TypePeerShardInfo,
	TypeValidatorList,
}

// Known reports whether t is in the message type table.
func (t MessageType) Known() bool {
	_, ok := messageTypeNames[t]
	return ok
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "Unknown(" + strconv.Itoa(int(t)) + ")"
}
