package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"strconv"

	"github.com/gin-gonic/gin"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/response"
	"github.com/weiwangfds/medcap/internal/service/ingest"
)

// UploadHandler 拍摄与上传
type UploadHandler struct {
	ingestService ingest.IngestService
}

// NewUploadHandler 创建上传处理器
func NewUploadHandler(ingestService ingest.IngestService) *UploadHandler {
	return &UploadHandler{ingestService: ingestService}
}

// CaptureRequest 摄像头拍摄请求
type CaptureRequest struct {
	UHID      string   `json:"uhid" binding:"required"`
	TagID     uint     `json:"tag_id"`
	Image     string   `json:"image" binding:"required"` // data:image/png;base64,...
	Latitude  *float64 `json:"latitude" binding:"omitempty,latitude"`
	Longitude *float64 `json:"longitude" binding:"omitempty,longitude"`
}

// Capture 保存摄像头拍摄的图片
// @Summary 保存拍摄图片
// @Description 保留标签会同时生成入院/出院摘要PDF
// @Tags 上传
// @Accept json
// @Produce json
// @Param body body CaptureRequest true "拍摄内容"
// @Success 201 {object} response.Response{data=ingest.Stored}
// @Failure 400 {object} response.Response
// @Router /captures [post]
func (h *UploadHandler) Capture(c *gin.Context) {
	var req CaptureRequest
	if !bindJSON(c, &req) {
		return
	}
	stored, err := h.ingestService.Capture(c.Request.Context(), ingest.Request{
		ActorID:   actor(c),
		UHID:      req.UHID,
		TagID:     req.TagID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}, req.Image)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, "Image captured successfully.", stored)
}

// Upload 按上传入口保存文件
// @Summary 上传文件
// @Description profile为file、image2pdf、image时使用file字段；pdf_batch、image_batch使用files字段
// @Tags 上传
// @Accept multipart/form-data
// @Produce json
// @Param profile path string true "上传入口"
// @Param uhid formData string true "UHID"
// @Param tag_id formData int true "标签ID"
// @Param file formData file false "单个文件"
// @Param files formData file false "多个文件"
// @Success 201 {object} response.Response{data=ingest.Stored}
// @Success 200 {object} response.Response{data=ingest.BatchResult} "批量上传"
// @Failure 400 {object} response.Response
// @Router /uploads/{profile} [post]
func (h *UploadHandler) Upload(c *gin.Context) {
	name := c.Param("profile")
	profile, ok := ingest.LookupProfile(name)
	if !ok || profile.Name == ingest.ProfileCapture {
		response.FromError(c, apperrors.Newf(apperrors.ErrInvalidParams, "Unknown upload type '%s'.", name))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.FromError(c, apperrors.New(apperrors.ErrNoFileUploaded, ""))
		return
	}
	req, err := formRequest(c, form)
	if err != nil {
		response.FromError(c, err)
		return
	}

	if profile.Batch {
		h.uploadBatch(c, name, req, form.File["files"])
		return
	}

	files := form.File["file"]
	if len(files) == 0 {
		response.FromError(c, apperrors.New(apperrors.ErrNoFileUploaded, ""))
		return
	}
	stored, err := h.ingestService.Ingest(c.Request.Context(), name, req, payload(files[0]))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, fmt.Sprintf("%s uploaded successfully.", stored.Kind.Noun()), stored)
}

func (h *UploadHandler) uploadBatch(c *gin.Context, name string, req ingest.Request, files []*multipart.FileHeader) {
	payloads := make([]ingest.Payload, 0, len(files))
	for _, fh := range files {
		payloads = append(payloads, payload(fh))
	}
	result, err := h.ingestService.IngestBatch(c.Request.Context(), name, req, payloads)
	if err != nil {
		response.FromError(c, err)
		return
	}

	succeeded := 0
	for _, r := range result.Results {
		if r.Success {
			succeeded++
		}
	}
	response.SuccessWithMessage(c, fmt.Sprintf("%d of %d files uploaded.", succeeded, len(result.Results)), result)
}

// formRequest 读取表单中的UHID、标签和坐标
func formRequest(c *gin.Context, form *multipart.Form) (ingest.Request, error) {
	req := ingest.Request{ActorID: actor(c), UHID: first(form.Value["uhid"])}
	if raw := first(form.Value["tag_id"]); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return req, apperrors.New(apperrors.ErrInvalidTag, "")
		}
		req.TagID = uint(id)
	}
	for _, coord := range []struct {
		field string
		into  **float64
	}{
		{"latitude", &req.Latitude},
		{"longitude", &req.Longitude},
	} {
		raw := first(form.Value[coord.field])
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, apperrors.Newf(apperrors.ErrInvalidParams, "Invalid %s.", coord.field)
		}
		*coord.into = &v
	}
	return req, nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func payload(fh *multipart.FileHeader) ingest.Payload {
	return ingest.Payload{
		Name:        fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}
