package errs

import (
	"github.com/gin-gonic/gin"
)

// Response is the JSON error body
type Response struct {
	Error   string            `json:"error"`
	Code    Code              `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// ToResponse converts err into its HTTP status and body.
// Uncoded errors become a generic 500 so internals never leak.
func ToResponse(err error) (int, Response) {
	e := As(err)
	if e == nil {
		meta := MetadataFor(CodeInternal)
		return meta.HTTPStatus, Response{Error: meta.PublicMessage, Code: CodeInternal}
	}
	meta := MetadataFor(e.Code())
	msg := meta.PublicMessage
	if meta.ShowMessage && e.Message() != "" {
		msg = e.Message()
	}
	return meta.HTTPStatus, Response{Error: msg, Code: e.Code(), Details: e.Details()}
}

// Abort writes err as JSON and stops the handler chain
func Abort(c *gin.Context, err error) {
	status, body := ToResponse(err)
	if status >= 500 {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}
