package validation

import (
	"bytes"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/olie-orders/internal/apperr"
)

// Bind decodes the JSON body into out. An empty body leaves out untouched so
// that missing fields surface as "required" errors later.
func Bind(c *gin.Context, out interface{}) error {
	raw, err := c.GetRawData()
	if err != nil {
		return apperr.Validation("invalid request body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := binding.JSON.BindBody(raw, out); err != nil {
		return apperr.Validation("invalid JSON body")
	}
	return nil
}

// BindAndValidate binds JSON body into out and runs validation.
// On failure it writes the {ok:false,error} envelope and returns the error for
// the handler to short-circuit.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	err := Bind(c, out)
	if err == nil {
		err = Validate(v, out)
	}
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"ok": false, "error": apperr.Message(err)})
		return err
	}
	return nil
}
