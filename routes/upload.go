package routes

import (
	"errors"
	"io"
	"log"
	"strconv"

	"github.com/kataras/iris/v12"

	"propertyline-server/chat"
	"propertyline-server/services"
	"propertyline-server/utils"
)

// UploadMessageAttachment handles POST /api/messages/upload: the blob is
// written first, then the message referencing it; if the append fails the
// blob is deleted again (compensating action, not a transaction).
func UploadMessageAttachment(ctx iris.Context) {
	file, header, err := ctx.FormFile("file")
	if err != nil {
		utils.JSONError(ctx, iris.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	propertyID, err := strconv.ParseUint(ctx.FormValue("property_id"), 10, 32)
	if err != nil || propertyID == 0 {
		utils.JSONError(ctx, iris.StatusBadRequest, "property_id is required")
		return
	}
	receiverID, err := strconv.ParseUint(ctx.FormValue("receiver_id"), 10, 32)
	if err != nil || receiverID == 0 {
		utils.JSONError(ctx, iris.StatusBadRequest, "receiver_id is required")
		return
	}
	caption := ctx.FormValue("message")

	data, err := io.ReadAll(io.LimitReader(file, services.MaxAttachmentSize+1))
	if err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	key, msgType, err := attachments.Upload(ctx.Request().Context(), data, mimeType, header.Filename)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnsupportedType):
			utils.JSONError(ctx, iris.StatusBadRequest, "file type not allowed")
		case errors.Is(err, services.ErrTooLarge):
			utils.JSONError(ctx, iris.StatusBadRequest, "file exceeds the 5 MiB limit")
		default:
			log.Printf("routes: attachment upload failed: %v", err)
			utils.CreateInternalServerError(ctx)
		}
		return
	}

	userID := utils.AuthenticatedUserID(ctx)
	convID := chat.DeriveConversationID(uint(propertyID), userID, uint(receiverID))

	msg, err := messageStore.Append(ctx.Request().Context(), convID, userID, uint(receiverID), caption, msgType, key)
	if err != nil {
		log.Printf("routes: append with attachment to %s failed: %v", convID, err)
		if delErr := attachments.Delete(ctx.Request().Context(), key); delErr != nil {
			log.Printf("routes: compensating delete of %s failed: %v", key, delErr)
		}
		utils.CreateInternalServerError(ctx)
		return
	}
	notifier.Publish(ctx.Request().Context(), convID)

	ctx.JSON(iris.Map{
		"success":      true,
		"message_id":   strconv.FormatInt(msg.ID, 10),
		"filename":     key,
		"message_type": msgType,
	})
}
