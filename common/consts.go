package common

const (
	// envs:
	LocalEnv = "local"
	ProEnv   = "pro"

	// message statuses:
	InQueueStatus        = 0
	AckPendingStatus     = 1
	AckReceivedStatus    = 2
	NackReceivedStatus   = 3
	AckNotReceivedStatus = 4

	// message priorities, lower is more urgent:
	VeryHighPriority = 1
	HighPriority     = 2
	MediumPriority   = 3
	LowPriority      = 4
	VeryLowPriority  = 5

	// content types:
	TextContentType = "text"
	JsonContentType = "json"

	// cleanup bitmask flags:
	DeleteAckReceived    = 0x1
	DeleteNackReceived   = 0x2
	DeleteAckNotReceived = 0x4
	DeleteAckPending     = 0x8
	DeleteSafe           = DeleteAckReceived | DeleteNackReceived | DeleteAckNotReceived
	DeleteAll            = 0xff

	// policies applied to messages stuck in ACK_PENDING:
	RequeuePendingPolicy       = "requeue"
	UndeliverablePendingPolicy = "undeliverable"

	// UTC, second precision. Lexical order of formatted values is chronological order.
	DateFormat = "2006-01-02 15:04:05"

	DefaultMaxLimit = 1000

	// OS:
	WindowsOS = "windows"
	LinuxOS   = "linux"
	MacOS     = "darwin"
)

var (
	SupportedEnvs = map[string]bool{
		LocalEnv: true,
		ProEnv:   true,
	}

	SupportedPendingPolicies = map[string]bool{
		RequeuePendingPolicy:       true,
		UndeliverablePendingPolicy: true,
	}

	statusNames = map[int]string{
		InQueueStatus:        "in_queue",
		AckPendingStatus:     "ack_pending",
		AckReceivedStatus:    "ack_received",
		NackReceivedStatus:   "nack_received",
		AckNotReceivedStatus: "ack_not_received",
	}
)

// AllStatuses lists every status in code order.
func AllStatuses() []int {
	return []int{InQueueStatus, AckPendingStatus, AckReceivedStatus, NackReceivedStatus, AckNotReceivedStatus}
}

func StatusName(status int) string {
	if name, ok := statusNames[status]; ok {
		return name
	}
	return "unknown"
}

// ParseStatus accepts either the numeric code or the name returned by StatusName.
func ParseStatus(raw string) (int, error) {
	for code, name := range statusNames {
		if name == raw {
			return code, nil
		}
	}
	status, err := parseInt(raw)
	if err != nil {
		return 0, NewRangeError("unknown status %q", raw)
	}
	if !IsValidStatus(status) {
		return 0, NewRangeError("status %d is out of range [%d, %d]", status, InQueueStatus, AckNotReceivedStatus)
	}
	return status, nil
}

func IsValidStatus(status int) bool {
	return status >= InQueueStatus && status <= AckNotReceivedStatus
}

func IsValidPriority(priority int) bool {
	return priority >= VeryHighPriority && priority <= VeryLowPriority
}
