package status

// Category is the classification bucket a failure code maps into.
type Category uint8

const (
	// CategoryUnknown is used for codes the classifier does not recognise.
	CategoryUnknown Category = iota

	// CategoryBadRequest indicates a malformed or rejected request.
	CategoryBadRequest

	// CategoryUnauthorized indicates rejected or expired credentials.
	CategoryUnauthorized

	// CategoryNotFound indicates the hub or device does not exist.
	CategoryNotFound

	// CategoryThrottled indicates the service is rate limiting the client.
	CategoryThrottled

	// CategoryServerError indicates an internal service failure.
	CategoryServerError

	// CategoryTransientNetwork indicates a lost, refused or timed out connection.
	CategoryTransientNetwork
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryBadRequest:
		return "BAD_REQUEST"
	case CategoryUnauthorized:
		return "UNAUTHORIZED"
	case CategoryNotFound:
		return "NOT_FOUND"
	case CategoryThrottled:
		return "THROTTLED"
	case CategoryServerError:
		return "SERVER_ERROR"
	case CategoryTransientNetwork:
		return "TRANSIENT_NETWORK"
	default:
		return "UNKNOWN"
	}
}

// IsRetryable reports whether a failure in this category can succeed on retry.
// UNKNOWN is treated as retryable; the retry expiration bounds it.
func (c Category) IsRetryable() bool {
	switch c {
	case CategoryBadRequest, CategoryUnauthorized, CategoryNotFound:
		return false
	default:
		return true
	}
}

// ParseCategory parses a category name as returned by String.
// Unrecognised names yield CategoryUnknown and false.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories() {
		if c.String() == s {
			return c, true
		}
	}
	return CategoryUnknown, false
}

// Categories returns all categories in declaration order.
func Categories() []Category {
	return []Category{
		CategoryUnknown,
		CategoryBadRequest,
		CategoryUnauthorized,
		CategoryNotFound,
		CategoryThrottled,
		CategoryServerError,
		CategoryTransientNetwork,
	}
}
