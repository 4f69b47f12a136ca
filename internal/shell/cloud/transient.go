package cloud

import (
	"errors"
	"net"

	smithy "github.com/aws/smithy-go"
)

// transientCodes are provider error codes worth retrying. Everything else
// (validation failures, access denied, conflicts) fails the apply outright.
var transientCodes = map[string]bool{
	"Throttling":                  true,
	"ThrottlingException":         true,
	"RequestLimitExceeded":        true,
	"TooManyRequestsException":    true,
	"RequestThrottled":            true,
	"ServiceUnavailable":          true,
	"ServiceUnavailableException": true,
	"InternalError":               true,
	"InternalFailure":             true,
	"RequestTimeout":              true,
	"RequestTimeoutException":     true,
}

// IsTransient reports whether err is a throttle, timeout, or transport
// failure that a bounded retry may recover from.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return transientCodes[apiErr.ErrorCode()]
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// IsNotFound reports whether err means the remote resource does not exist.
// Destroy treats these as success: the resource is already gone.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NotFound", "NotFoundException", "ResourceNotFoundException",
		"NoSuchBucket", "NoSuchEntity", "RepositoryNotFoundException",
		"ClusterNotFoundException", "ServiceNotFoundException",
		"QueueDoesNotExist", "AWS.SimpleQueueService.NonExistentQueue",
		"LoadBalancerNotFound", "TargetGroupNotFound",
		"InvalidVpcID.NotFound", "InvalidSubnetID.NotFound",
		"InvalidGroup.NotFound":
		return true
	}
	return false
}
