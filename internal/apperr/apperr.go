// Package apperr описывает классификацию ошибок, видимую вызывающей стороне.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind описывает вид ошибки.
type Kind string

const (
	InvalidArgument    Kind = "invalid-argument"
	Unauthenticated    Kind = "unauthenticated"
	PermissionDenied   Kind = "permission-denied"
	NotFound           Kind = "not-found"
	FailedPrecondition Kind = "failed-precondition"
	Internal           Kind = "internal"
)

// HTTPStatus возвращает HTTP-код для вида ошибки.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidArgument:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case PermissionDenied:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case FailedPrecondition:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// Details содержит диагностические данные для операторов. Вызывающему не показываются.
type Details map[string]any

// Error описывает ошибку с видом, сообщением для клиента и диагностикой.
type Error struct {
	Kind    Kind
	Message string
	Details Details
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New создаёт ошибку указанного вида.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap создаёт ошибку указанного вида поверх исходной.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetails добавляет диагностические данные.
func (e *Error) WithDetails(d Details) *Error {
	if e.Details == nil {
		e.Details = Details{}
	}
	for k, v := range d {
		e.Details[k] = v
	}
	return e
}

// KindOf возвращает вид ошибки. Для неклассифицированных ошибок возвращается Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is сообщает, относится ли ошибка к указанному виду.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
