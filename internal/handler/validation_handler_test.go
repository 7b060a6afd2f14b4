package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sorteo-api/internal/dto"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
)

type fakeValidationSrv struct {
	upload     dto.ImageUpload
	content    []byte
	uploadResp *dto.UploadResponse
	uploadErr  error
	statusResp *dto.ValidationStatusResponse
	statusErr  error
	callback   dto.ValidationCallback
	callResp   *dto.CallbackResponse
	callErr    error
}

func (f *fakeValidationSrv) SubmitUpload(_ context.Context, upload dto.ImageUpload) (*dto.UploadResponse, error) {
	f.upload = upload
	f.content, _ = io.ReadAll(upload.Content)
	return f.uploadResp, f.uploadErr
}

func (f *fakeValidationSrv) PollStatus(_ context.Context, correlationID string) (*dto.ValidationStatusResponse, error) {
	return f.statusResp, f.statusErr
}

func (f *fakeValidationSrv) ReceiveCallback(_ context.Context, callback dto.ValidationCallback) (*dto.CallbackResponse, error) {
	f.callback = callback
	return f.callResp, f.callErr
}

func multipartRequest(t *testing.T, field string, files int, size int) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for i := 0; i < files; i++ {
		part, err := writer.CreateFormFile(field, "ticket.jpg")
		require.NoError(t, err)
		_, err = part.Write(bytes.Repeat([]byte{0xFF}, size))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestValidationHandlerUploadAccepted(t *testing.T) {
	srv := &fakeValidationSrv{uploadResp: &dto.UploadResponse{CorrelationID: "corr-1", Status: dto.UploadStatusProcessing, PollAfterMs: 2000}}
	handler := NewValidationHandler(srv, 1024)

	c, rec := newTestContext()
	c.Request = multipartRequest(t, ticketFormField, 1, 32)
	handler.Upload(c)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, "corr-1", envelope.Data["correlationId"])
	assert.Equal(t, "ticket.jpg", srv.upload.Filename)
	assert.Len(t, srv.content, 32)
}

func TestValidationHandlerUploadResolvedSynchronously(t *testing.T) {
	srv := &fakeValidationSrv{uploadResp: &dto.UploadResponse{CorrelationID: "corr-1", Status: "approved", ApprovalToken: "tok"}}
	handler := NewValidationHandler(srv, 1024)

	c, rec := newTestContext()
	c.Request = multipartRequest(t, ticketFormField, 1, 32)
	handler.Upload(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok", decodeEnvelope(t, rec).Data["approvalToken"])
}

func TestValidationHandlerUploadRejectsBadForms(t *testing.T) {
	cases := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
	}{
		{"missing field", func(t *testing.T) *http.Request { return multipartRequest(t, "other", 1, 8) }, http.StatusBadRequest},
		{"two files", func(t *testing.T) *http.Request { return multipartRequest(t, ticketFormField, 2, 8) }, http.StatusBadRequest},
		{"not multipart", func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("{}"))
		}, http.StatusBadRequest},
		{"too large", func(t *testing.T) *http.Request { return multipartRequest(t, ticketFormField, 1, 200<<10) }, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := &fakeValidationSrv{}
			handler := NewValidationHandler(srv, 1024)
			c, rec := newTestContext()
			c.Request = tc.req(t)
			handler.Upload(c)
			assert.Equal(t, tc.status, rec.Code)
			assert.Empty(t, srv.upload.Filename)
		})
	}
}

func TestValidationHandlerUploadMapsServiceErrors(t *testing.T) {
	srv := &fakeValidationSrv{uploadErr: appErrors.ErrUpstreamRejected}
	handler := NewValidationHandler(srv, 1024)

	c, rec := newTestContext()
	c.Request = multipartRequest(t, ticketFormField, 1, 8)
	handler.Upload(c)

	assert.Equal(t, appErrors.ErrUpstreamRejected.Status, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

func TestValidationHandlerStatus(t *testing.T) {
	srv := &fakeValidationSrv{statusErr: appErrors.ErrValidationNotFound}
	handler := NewValidationHandler(srv, 0)

	c, rec := newTestContext()
	c.Params = gin.Params{{Key: "correlationId", Value: "nope"}}
	c.Request = httptest.NewRequest(http.MethodGet, "/validation-status/nope", nil)
	handler.Status(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	srv.statusErr = nil
	srv.statusResp = &dto.ValidationStatusResponse{CorrelationID: "corr-1", Status: "pending", NextStep: dto.NextStepWait}
	c, rec = newTestContext()
	c.Params = gin.Params{{Key: "correlationId", Value: "corr-1"}}
	c.Request = httptest.NewRequest(http.MethodGet, "/validation-status/corr-1", nil)
	handler.Status(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wait", decodeEnvelope(t, rec).Data["nextStep"])
}

func TestValidationHandlerCallbackKeepsRawPayload(t *testing.T) {
	srv := &fakeValidationSrv{callResp: &dto.CallbackResponse{Received: true, AlreadyApplied: true}}
	handler := NewValidationHandler(srv, 0)
	payload := `{"correlationId":"corr-1","valid":true,"confidence":0.9,"extra":"kept"}`

	c, rec := newTestContext()
	c.Request = httptest.NewRequest(http.MethodPost, "/webhook/validation-response", strings.NewReader(payload))
	handler.Callback(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeEnvelope(t, rec).Data["alreadyApplied"])
	assert.Equal(t, "corr-1", srv.callback.CorrelationID)
	require.NotNil(t, srv.callback.Valid)
	assert.True(t, *srv.callback.Valid)
	assert.JSONEq(t, payload, string(srv.callback.Raw))
}

func TestValidationHandlerCallbackErrors(t *testing.T) {
	srv := &fakeValidationSrv{}
	handler := NewValidationHandler(srv, 0)

	c, rec := newTestContext()
	c.Request = httptest.NewRequest(http.MethodPost, "/webhook/validation-response", strings.NewReader("not json"))
	handler.Callback(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	srv.callErr = appErrors.ErrValidationExpired
	c, rec = newTestContext()
	c.Request = httptest.NewRequest(http.MethodPost, "/webhook/validation-response", strings.NewReader(`{"correlationId":"corr-1","valid":false}`))
	handler.Callback(c)
	assert.Equal(t, http.StatusGone, rec.Code)
}
