package httpapi

// Result is the body of every JSON response.
//   - code: ResultSuccess on success, ResultError for rejected input, ResultTokenExpired with HTTP 401
//   - type: "success" | "error"
//   - result: the payload, null on error
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess      = 2000
	ResultError        = -1
	ResultTokenExpired = 60401
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return failWith(ResultError, message)
}

// Expired tells the client to drop its token and sign in again.
func Expired() Result[any] {
	return failWith(ResultTokenExpired, "unauthorized")
}

func failWith(code int, message string) Result[any] {
	return Result[any]{Code: code, Type: "error", Message: message}
}
