package strata

import "github.com/zoobzio/capitan"

// Field keys for strata events.
var (
	// KeyRuntime is the ID of the emitting Runtime.
	KeyRuntime = capitan.NewStringKey("runtime")

	// KeyChannel is the name of the state channel involved.
	KeyChannel = capitan.NewStringKey("channel")

	// KeyOldStatus is the status before a transition.
	KeyOldStatus = capitan.NewStringKey("old_status")

	// KeyNewStatus is the status after a transition.
	KeyNewStatus = capitan.NewStringKey("new_status")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyMember is the collection key of the member involved, formatted with %v.
	KeyMember = capitan.NewStringKey("member")

	// KeySelector is the output channel picked from each member.
	KeySelector = capitan.NewStringKey("selector")

	// KeyOperator names the pick operator ("merge" or "combine").
	KeyOperator = capitan.NewStringKey("operator")

	// KeyCount is a size, such as the number of live members.
	KeyCount = capitan.NewIntKey("count")

	// KeyDuration is how long an operation took.
	KeyDuration = capitan.NewDurationKey("duration")

	// KeySource identifies an external watcher, such as "etcd:/config/".
	KeySource = capitan.NewStringKey("source")

	// KeyContentType is the codec content type used for hydration.
	KeyContentType = capitan.NewStringKey("content_type")
)
