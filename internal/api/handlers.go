package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"accordgo/internal/auth"
	"accordgo/internal/models"
	"accordgo/internal/service/mediation"
	"accordgo/internal/session"
	"accordgo/internal/worker"
)

// Handler wires HTTP routes to the mediation service and the assist pipeline.
type Handler struct {
	svc        *mediation.Service
	auth       *auth.Service
	orch       *mediation.Orchestrator
	hub        *session.Hub
	dispatcher *worker.Dispatcher
	fileBase   string
}

// NewHandler constructs a Handler instance.
func NewHandler(svc *mediation.Service, authService *auth.Service, orch *mediation.Orchestrator, hub *session.Hub, dispatcher *worker.Dispatcher, fileBase string) *Handler {
	return &Handler{
		svc:        svc,
		auth:       authService,
		orch:       orch,
		hub:        hub,
		dispatcher: dispatcher,
		fileBase:   fileBase,
	}
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return userID, true
}

func caseIDParam(c *gin.Context) (int64, bool) {
	caseID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || caseID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
		return 0, false
	}
	return caseID, true
}

// requireCaseAccess loads the case id and verifies membership in one step.
func (h *Handler) requireCaseAccess(c *gin.Context) (int64, int64, bool) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return 0, 0, false
	}
	caseID, ok := caseIDParam(c)
	if !ok {
		return 0, 0, false
	}
	if err := h.svc.RequireParticipant(c.Request.Context(), caseID, userID); err != nil {
		if errors.Is(err, mediation.ErrNotParticipant) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return 0, 0, false
	}
	return userID, caseID, true
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)

	secured := api.Group("")
	secured.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	secured.POST("/users/logout", h.logoutUser)
	secured.DELETE("/users", h.deleteUser)

	secured.POST("/cases", h.createCase)
	secured.GET("/cases", h.listCases)
	secured.GET("/cases/:id", h.getCase)
	secured.POST("/cases/:id/invite", h.generateInvite)
	secured.POST("/cases/:id/activate", h.activateCase)
	secured.POST("/cases/:id/context", h.submitContext)
	secured.GET("/cases/:id/messages", h.listMessages)
	secured.POST("/cases/:id/messages", h.postMessage)
	secured.GET("/cases/:id/agreement", h.getAgreement)
	secured.PUT("/cases/:id/agreement", h.updateAgreementDraft)
	secured.POST("/cases/:id/agreement/finalize", h.finalizeAgreement)
	secured.POST("/cases/:id/agreement/sign", h.signAgreement)
	secured.POST("/cases/:id/files", h.uploadCaseFile)
	secured.GET("/cases/:id/files", h.listCaseFiles)
	secured.POST("/cases/:id/files/:file_id/summarize", h.summarizeCaseFile)
	secured.GET("/cases/:id/state", h.caseState)
	secured.GET("/cases/:id/events", h.streamCaseEvents)

	secured.GET("/invites/:token", h.validateInvite)
	secured.POST("/invites/accept", h.acceptInvite)

	h.registerAssistRoutes(secured)
}

type credentialsRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.svc.RegisterUser(c.Request.Context(), req.Email, req.DisplayName, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":           user.ID,
		"email":        user.Email,
		"display_name": user.DisplayName,
		"created_at":   user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":           user.ID,
		"email":        user.Email,
		"display_name": user.DisplayName,
		"auth_token":   authToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		_ = h.auth.RevokeToken(c.Request.Context(), authToken)
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.auth.RevokeUserTokens(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.dispatcher.CancelUser(userID)
	if err := h.svc.DeleteUser(c.Request.Context(), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) createCase(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Type        string `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	kase, err := h.svc.CreateDraftCase(c.Request.Context(), userID, req.Title, req.Description, req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"case": kase})
}

func (h *Handler) listCases(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	cases, err := h.svc.ListCases(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cases == nil {
		cases = make([]models.Case, 0)
	}
	c.JSON(http.StatusOK, gin.H{"cases": cases})
}

func (h *Handler) getCase(c *gin.Context) {
	_, caseID, ok := h.requireCaseAccess(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	kase, err := h.svc.GetCase(ctx, caseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "case not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	participants, err := h.svc.ListParticipants(ctx, caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	contexts, err := h.svc.ListContexts(ctx, caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	messages, err := h.svc.ListMessages(ctx, caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	agreement, err := h.svc.GetAgreement(ctx, caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"case":         kase,
		"participants": participants,
		"contexts":     contexts,
		"messages":     messages,
		"agreement":    agreement,
	})
}

func (h *Handler) generateInvite(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	caseID, ok := caseIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	token, err := h.svc.GenerateInvite(c.Request.Context(), userID, caseID, req.Email)
	if err != nil {
		if errors.Is(err, mediation.ErrNotParticipant) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invite_token": token})
}

func (h *Handler) validateInvite(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	kase, err := h.svc.ValidateInviteToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invalid invite token"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"case_id": kase.ID,
		"title":   kase.Title,
		"type":    kase.Type,
	})
}

func (h *Handler) acceptInvite(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	kase, err := h.svc.JoinCase(c.Request.Context(), userID, req.Token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": kase})
}

func (h *Handler) activateCase(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	caseID, ok := caseIDParam(c)
	if !ok {
		return
	}
	if err := h.svc.ActivateCase(c.Request.Context(), userID, caseID); err != nil {
		if errors.Is(err, mediation.ErrNotParticipant) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) submitContext(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	caseID, ok := caseIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Background        string `json:"background"`
		Goals             string `json:"goals"`
		AcceptableOutcome string `json:"acceptable_outcome"`
		Constraints       string `json:"constraints"`
		SensitivityLevel  string `json:"sensitivity_level"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	pc, err := h.svc.InsertContext(c.Request.Context(), userID, caseID, models.PartyContext{
		Background:        req.Background,
		Goals:             req.Goals,
		AcceptableOutcome: req.AcceptableOutcome,
		Constraints:       req.Constraints,
		SensitivityLevel:  req.SensitivityLevel,
	})
	if err != nil {
		if errors.Is(err, mediation.ErrNotParticipant) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"context": pc})
}

func (h *Handler) listMessages(c *gin.Context) {
	_, caseID, ok := h.requireCaseAccess(c)
	if !ok {
		return
	}
	messages, err := h.svc.ListMessages(c.Request.Context(), caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = make([]*models.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) postMessage(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	caseID, ok := caseIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	message, err := h.svc.AppendUserMessage(c.Request.Context(), userID, caseID, req.Content)
	if err != nil {
		if errors.Is(err, mediation.ErrNotParticipant) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": message})
}

func (h *Handler) getAgreement(c *gin.Context) {
	_, caseID, ok := h.requireCaseAccess(c)
	if !ok {
		return
	}
	agreement, err := h.svc.GetAgreement(c.Request.Context(), caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if agreement == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no agreement yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agreement": agreement})
}

func (h *Handler) updateAgreementDraft(c *gin.Context) {
	_, caseID, ok := h.requireCaseAccess(c)
	if !ok {
		return
	}
	var req struct {
		DraftText string `json:"draft_text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	agreement, err := h.svc.UpsertDraft(c.Request.Context(), caseID, req.DraftText)
	if err != nil {
		if errors.Is(err, mediation.ErrAgreementFinalized) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agreement": agreement})
}

func (h *Handler) finalizeAgreement(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	caseID, ok := caseIDParam(c)
	if !ok {
		return
	}
	agreement, err := h.svc.FinalizeAgreement(c.Request.Context(), userID, caseID)
	if err != nil {
		switch {
		case errors.Is(err, mediation.ErrNotParticipant):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, mediation.ErrAgreementFinalized):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"agreement": agreement})
}

func (h *Handler) signAgreement(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	caseID, ok := caseIDParam(c)
	if !ok {
		return
	}
	var req struct {
		TypedName string `json:"typed_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	participant, err := h.svc.SignAgreement(c.Request.Context(), userID, caseID, req.TypedName)
	if err != nil {
		switch {
		case errors.Is(err, mediation.ErrNotParticipant):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, mediation.ErrNameMismatch):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	kase, err := h.svc.GetCase(c.Request.Context(), caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"participant": participant,
		"case_status": kase.Status,
	})
}

const (
	maxUploadBytes   = 10 << 20 // 10 MB
	caseStorageLimit = 50 << 20 // 50 MB per case
)

var allowedContentTypes = []string{
	"text/plain",
	"text/markdown",
	"application/pdf",
	"application/json",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"image/",
}

func isAllowedContentType(ct string) bool {
	for _, allowed := range allowedContentTypes {
		if strings.HasPrefix(ct, allowed) {
			return true
		}
	}
	return false
}

func (h *Handler) uploadCaseFile(c *gin.Context) {
	userID, caseID, ok := h.requireCaseAccess(c)
	if !ok {
		return
	}
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	usage, err := h.svc.CaseStorageUsage(c.Request.Context(), caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "calculate usage failed"})
		return
	}
	if usage+file.Size > caseStorageLimit {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "storage quota exceeded"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	_ = f.Close()
	contentType := http.DetectContentType(buf[:n])
	if !isAllowedContentType(contentType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}
	filename := filepath.Base(file.Filename)
	destDir := filepath.Join(h.fileBase, fmt.Sprintf("case_%d", caseID))
	finalName := fmt.Sprintf("%d_%s", time.Now().UnixNano(), filename)
	destPath := filepath.Join(destDir, finalName)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create directory failed"})
		return
	}
	if err := c.SaveUploadedFile(file, destPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	record, err := h.svc.RecordCaseFile(c.Request.Context(), userID, caseID, filename, destPath, contentType, file.Size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record file failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"file": record})
}

func (h *Handler) listCaseFiles(c *gin.Context) {
	_, caseID, ok := h.requireCaseAccess(c)
	if !ok {
		return
	}
	files, err := h.svc.ListCaseFiles(c.Request.Context(), caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if files == nil {
		files = make([]models.CaseFile, 0)
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
