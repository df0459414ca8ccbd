package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// Recovery turns a panic into a 500. The stack is logged always and returned
// to the client only when exposeStack is set.
func Recovery(logger *logrus.Logger, exposeStack bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				stack := string(debug.Stack())
				logger.WithFields(logrus.Fields{
					"panic":  fmt.Sprint(rec),
					"path":   r.URL.Path,
					"method": r.Method,
					"stack":  stack,
				}).Error("Recovered from panic")

				body := errorBody{Code: "INTERNAL_ERROR", Message: "Internal server error"}
				if exposeStack {
					body.Message = fmt.Sprint(rec)
					body.Stack = stack
				}
				writeJSON(w, http.StatusInternalServerError, body)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
