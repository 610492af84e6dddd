package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/coursework/internal/failure"
	"github.com/MarcoPoloResearchLab/coursework/internal/projects"
	"github.com/MarcoPoloResearchLab/coursework/internal/uploads"
	"github.com/MarcoPoloResearchLab/coursework/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	opRegister   = "server.register"
	opLogin      = "server.login"
	opComplete   = "server.complete"
	opSaveUpload = "server.upload"

	projectFileField    = "pdf"
	submissionFileField = "file"
)

type captchaResponsePayload struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

type registerRequestPayload struct {
	Username  string `json:"username" form:"username"`
	Password  string `json:"password" form:"password"`
	Name      string `json:"name" form:"name"`
	Role      string `json:"role" form:"role"`
	ClassName string `json:"className" form:"className"`
}

type loginRequestPayload struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
	Token    string `json:"token" form:"token"`
	Captcha  string `json:"captcha" form:"captcha"`
}

type completeRequestPayload struct {
	Completed bool `json:"completed" form:"completed"`
}

type countsPayload struct {
	Total     int `json:"total"`
	Viewed    int `json:"viewed"`
	Submitted int `json:"submitted"`
	Completed int `json:"completed"`
}

type projectSummaryPayload struct {
	ID          int           `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	UploadDate  string        `json:"uploadDate"`
	ClassName   string        `json:"className"`
	FacultyName string        `json:"facultyName"`
	Counts      countsPayload `json:"counts"`
	PDFFile     string        `json:"pdfFile"`
}

type projectDetailPayload struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ClassName   string `json:"className"`
	PDFFile     string `json:"pdfFile"`
}

type studentPayload struct {
	RollNo         string `json:"rollNo"`
	Name           string `json:"name"`
	ClassName      string `json:"className"`
	Viewed         bool   `json:"viewed"`
	Submitted      bool   `json:"submitted"`
	Completed      bool   `json:"completed"`
	SubmissionFile string `json:"submissionFile"`
}

func (h *httpHandler) handleCaptcha(c *gin.Context) {
	challenge, err := h.auth.IssueCaptcha()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, captchaResponsePayload{Token: challenge.Token, Code: challenge.Code})
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBind(&request); err != nil {
		h.writeError(c, failure.New(opRegister, "invalid_body", failure.ErrInvalidInput))
		return
	}
	err := h.users.Register(users.Registration{
		Username:    request.Username,
		Password:    request.Password,
		DisplayName: request.Name,
		Role:        users.Role(request.Role),
		ClassName:   request.ClassName,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBind(&request); err != nil {
		h.writeError(c, failure.New(opLogin, "invalid_body", failure.ErrInvalidInput))
		return
	}
	sessionID, user, err := h.auth.Login(request.Username, request.Password, request.Token, request.Captcha)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, sessionID, 0, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"ok": true, "role": string(user.Role)})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	h.auth.Logout(c.GetString(sessionContextKey))
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) handleCreateProject(c *gin.Context) {
	actor := currentUser(c)
	input := projects.NewProject{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		ClassName:   c.PostForm("className"),
	}

	var reservation uploads.Reservation
	if actor.IsFaculty() {
		if file, err := c.FormFile(projectFileField); err == nil {
			reservation, err = h.storeUpload(c, uploads.KindProject, file)
			if err != nil {
				h.writeError(c, err)
				return
			}
			input.PDFFile = reservation.StoredPath
		}
	}

	project, err := h.projects.CreateProject(actor, input)
	if err != nil {
		h.uploads.Discard(reservation)
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "projectId": project.ID})
}

func (h *httpHandler) handleListProjects(c *gin.Context) {
	summaries, err := h.projects.ListForUser(currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response := make([]projectSummaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		response = append(response, projectSummaryPayload{
			ID:          summary.ID,
			Title:       summary.Title,
			Description: summary.Description,
			UploadDate:  summary.UploadDate,
			ClassName:   summary.ClassName,
			FacultyName: summary.FacultyName,
			Counts: countsPayload{
				Total:     summary.Counts.Total,
				Viewed:    summary.Counts.Viewed,
				Submitted: summary.Counts.Submitted,
				Completed: summary.Counts.Completed,
			},
			PDFFile: summary.PDFFile,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetProject(c *gin.Context) {
	project, err := h.projects.GetProject(currentUser(c), projectID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, projectDetailPayload{
		ID:          project.ID,
		Title:       project.Title,
		Description: project.Description,
		ClassName:   project.ClassName,
		PDFFile:     project.PDFFile,
	})
}

func (h *httpHandler) handleRecordView(c *gin.Context) {
	if err := h.projects.RecordView(currentUser(c), projectID(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) handleRecordSubmission(c *gin.Context) {
	actor := currentUser(c)
	storedFile := ""
	var reservation uploads.Reservation
	if actor.IsStudent() {
		if file, err := c.FormFile(submissionFileField); err == nil {
			reservation, err = h.storeUpload(c, uploads.KindSubmission, file)
			if err != nil {
				h.writeError(c, err)
				return
			}
			storedFile = reservation.StoredPath
		}
	}

	if err := h.projects.RecordSubmission(actor, projectID(c), storedFile); err != nil {
		h.uploads.Discard(reservation)
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) handleListStudents(c *gin.Context) {
	students, err := h.projects.ListStudents(currentUser(c), projectID(c), projects.SortKey(c.Query("sort")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response := make([]studentPayload, 0, len(students))
	for _, state := range students {
		response = append(response, studentPayload{
			RollNo:         state.RollNo,
			Name:           state.Name,
			ClassName:      state.ClassName,
			Viewed:         state.Viewed,
			Submitted:      state.Submitted,
			Completed:      state.Completed,
			SubmissionFile: state.SubmissionFile,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleSetCompletion(c *gin.Context) {
	var request completeRequestPayload
	if err := c.ShouldBind(&request); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(c, failure.New(opComplete, "invalid_body", failure.ErrInvalidInput))
		return
	}
	err := h.projects.SetCompletion(currentUser(c), projectID(c), c.Param("roll"), request.Completed)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) storeUpload(c *gin.Context, kind uploads.Kind, file *multipart.FileHeader) (uploads.Reservation, error) {
	reservation, err := h.uploads.Reserve(kind, file.Filename)
	if err != nil {
		return uploads.Reservation{}, err
	}
	if err := c.SaveUploadedFile(file, reservation.Destination); err != nil {
		h.uploads.Discard(reservation)
		return uploads.Reservation{}, failure.Wrap(opSaveUpload, "write_failed", err)
	}
	h.logger.Debug("upload stored",
		zap.String("kind", string(kind)),
		zap.String("path", reservation.StoredPath),
		zap.Int64("bytes", file.Size))
	return reservation, nil
}

// projectID parses the :id route parameter. Unparseable ids map to 0, which never exists.
func projectID(c *gin.Context) int {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return 0
	}
	return id
}
