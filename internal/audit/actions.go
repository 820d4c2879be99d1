package audit

// Action constants centralize audit action names to avoid typos.
// NOTE: Do not log PII in details; actor/object are redacted downstream.
const (
	ActionSegmentCreated  = "SEGMENT_CREATED"
	ActionSegmentUpdated  = "SEGMENT_UPDATED"
	ActionSegmentDeleted  = "SEGMENT_DELETED"
	ActionSegmentAllocated = "SEGMENT_ALLOCATED"
	ActionSegmentReleased  = "SEGMENT_RELEASED"
	ActionVLANCreated      = "VLAN_CREATED"
	ActionVLANGroupCreated = "VLAN_GROUP_CREATED"
)
