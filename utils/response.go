package utils

import (
	"github.com/go-playground/validator/v10"
	"github.com/kataras/iris/v12"
)

// JSONError writes the uniform failure body: {success:false, message}.
func JSONError(ctx iris.Context, status int, message string) {
	ctx.StatusCode(status)
	ctx.JSON(iris.Map{"success": false, "message": message})
}

func CreateUnauthorized(ctx iris.Context) {
	JSONError(ctx, iris.StatusUnauthorized, "invalid or missing auth token")
}

func CreateInternalServerError(ctx iris.Context) {
	JSONError(ctx, iris.StatusInternalServerError, "internal server error")
}

// HandleValidationErrors turns a ReadJSON validation failure into a 400
// with field-level messages.
func HandleValidationErrors(err error, ctx iris.Context) {
	if errs, ok := err.(validator.ValidationErrors); ok {
		validationErrors := make([]iris.Map, 0, len(errs))
		for _, fieldErr := range errs {
			validationErrors = append(validationErrors, iris.Map{
				"field":   fieldErr.Field(),
				"message": "failed on " + fieldErr.Tag(),
			})
		}
		ctx.StatusCode(iris.StatusBadRequest)
		ctx.JSON(iris.Map{"success": false, "message": "validation failed", "errors": validationErrors})
		return
	}
	JSONError(ctx, iris.StatusBadRequest, "invalid request body")
}
