package batch

import (
	"fmt"
	"strings"
)

// Protocol identification sent in every header.
const (
	ProtType    = 2
	ProtVersion = 1
)

// Operation is a batch request type.
type Operation int

// Request types.
const (
	OpConnect     Operation = 0
	OpQueueJob    Operation = 1
	OpHoldJob     Operation = 7
	OpDeleteJob   Operation = 6
	OpLocateJob   Operation = 8
	OpModifyJob   Operation = 11
	OpSelectJobs  Operation = 16
	OpSignalJob   Operation = 18
	OpStatusJob   Operation = 19
	OpStatusQueue Operation = 20
	OpStatusSvr   Operation = 21
	OpRescQuery   Operation = 24
	OpStatusNode  Operation = 58
	OpDisconnect  Operation = 59
)

var opNames = map[Operation]string{
	OpConnect:     "Connect",
	OpQueueJob:    "QueueJob",
	OpHoldJob:     "HoldJob",
	OpDeleteJob:   "DeleteJob",
	OpLocateJob:   "LocateJob",
	OpModifyJob:   "ModifyJob",
	OpSelectJobs:  "SelectJobs",
	OpSignalJob:   "SignalJob",
	OpStatusJob:   "StatusJob",
	OpStatusQueue: "StatusQueue",
	OpStatusSvr:   "StatusServer",
	OpRescQuery:   "RescQuery",
	OpStatusNode:  "StatusNode",
	OpDisconnect:  "Disconnect",
}

// String returns the operation name.
func (o Operation) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

// ParseOperation returns the operation with the given name, ignoring case.
func ParseOperation(name string) (Operation, bool) {
	for op, s := range opNames {
		if strings.EqualFold(s, name) {
			return op, true
		}
	}
	return 0, false
}

// ObjectKind identifies the type of object in a status entry.
type ObjectKind int

const (
	KindServer ObjectKind = 0
	KindQueue  ObjectKind = 1
	KindJob    ObjectKind = 2
	KindNode   ObjectKind = 3
	KindResv   ObjectKind = 4
)

// String returns the object kind name.
func (k ObjectKind) String() string {
	switch k {
	case KindServer:
		return "Server"
	case KindQueue:
		return "Queue"
	case KindJob:
		return "Job"
	case KindNode:
		return "Node"
	case KindResv:
		return "Reservation"
	default:
		return "Unknown"
	}
}
