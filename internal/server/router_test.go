package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/coursework/internal/auth"
	"github.com/MarcoPoloResearchLab/coursework/internal/projects"
	"github.com/MarcoPoloResearchLab/coursework/internal/rosters"
	"github.com/MarcoPoloResearchLab/coursework/internal/uploads"
	"github.com/MarcoPoloResearchLab/coursework/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testCookieName = "sid"

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type testApp struct {
	t          *testing.T
	handler    http.Handler
	dataDir    string
	uploadsDir string
	clock      *testClock
	sessions   *auth.SessionRegistry
	logs       *observer.ObservedLogs
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	uploadsDir := filepath.Join(root, "uploads")
	clock := &testClock{now: time.Date(2024, 9, 1, 9, 30, 0, 0, time.UTC)}
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	userStore, err := users.NewStore(users.StoreConfig{Path: filepath.Join(dataDir, "users.txt"), Logger: logger})
	if err != nil {
		t.Fatalf("failed to create user store: %v", err)
	}
	rosterStore, err := rosters.NewStore(rosters.StoreConfig{Directory: dataDir, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create roster store: %v", err)
	}
	if err := rosterStore.SeedDefaults(); err != nil {
		t.Fatalf("failed to seed rosters: %v", err)
	}
	projectStore, err := projects.NewStore(projects.StoreConfig{Directory: dataDir, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create project store: %v", err)
	}
	projectService, err := projects.NewService(projects.ServiceConfig{
		Store:   projectStore,
		Rosters: rosterStore,
		Clock:   clock.Now,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("failed to create project service: %v", err)
	}
	uploadStore, err := uploads.NewStore(uploads.StoreConfig{Root: uploadsDir, Clock: clock.Now, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create upload store: %v", err)
	}
	sessions := auth.NewSessionRegistry(auth.SessionRegistryConfig{})
	authService, err := auth.NewService(auth.ServiceConfig{
		Credentials: userStore,
		Sessions:    sessions,
		Captchas:    auth.NewCaptchaRegistry(auth.CaptchaRegistryConfig{Clock: clock.Now}),
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("failed to create auth service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Auth:           authService,
		Users:          userStore,
		Projects:       projectService,
		Uploads:        uploadStore,
		CookieName:     testCookieName,
		AllowedOrigins: []string{"*"},
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &testApp{
		t:          t,
		handler:    handler,
		dataDir:    dataDir,
		uploadsDir: uploadsDir,
		clock:      clock,
		sessions:   sessions,
		logs:       logs,
	}
}

func (a *testApp) serve(request *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	a.t.Helper()
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	a.handler.ServeHTTP(recorder, request)
	return recorder
}

func (a *testApp) doJSON(method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			a.t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	return a.serve(request, cookie)
}

type uploadFile struct {
	field   string
	name    string
	content string
}

func (a *testApp) doMultipart(path string, fields map[string]string, file *uploadFile, cookie *http.Cookie) *httptest.ResponseRecorder {
	a.t.Helper()
	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			a.t.Fatalf("failed to write field: %v", err)
		}
	}
	if file != nil {
		part, err := writer.CreateFormFile(file.field, file.name)
		if err != nil {
			a.t.Fatalf("failed to create file part: %v", err)
		}
		if _, err := part.Write([]byte(file.content)); err != nil {
			a.t.Fatalf("failed to write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		a.t.Fatalf("failed to close multipart writer: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, path, &buffer)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return a.serve(request, cookie)
}

func (a *testApp) captcha() captchaResponsePayload {
	a.t.Helper()
	recorder := a.doJSON(http.MethodGet, "/api/captcha", nil, nil)
	if recorder.Code != http.StatusOK {
		a.t.Fatalf("captcha request failed: %d", recorder.Code)
	}
	var challenge captchaResponsePayload
	decode(a.t, recorder, &challenge)
	return challenge
}

func (a *testApp) register(username, password, name, role, className string) {
	a.t.Helper()
	recorder := a.doJSON(http.MethodPost, "/api/register", map[string]string{
		"username":  username,
		"password":  password,
		"name":      name,
		"role":      role,
		"className": className,
	}, nil)
	if recorder.Code != http.StatusOK {
		a.t.Fatalf("register %s failed: %d %s", username, recorder.Code, recorder.Body.String())
	}
}

func (a *testApp) login(username, password string) *http.Cookie {
	a.t.Helper()
	challenge := a.captcha()
	recorder := a.doJSON(http.MethodPost, "/api/login", map[string]string{
		"username": username,
		"password": password,
		"token":    challenge.Token,
		"captcha":  challenge.Code,
	}, nil)
	if recorder.Code != http.StatusOK {
		a.t.Fatalf("login %s failed: %d %s", username, recorder.Code, recorder.Body.String())
	}
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == testCookieName {
			if !cookie.HttpOnly {
				a.t.Fatalf("session cookie must be HttpOnly")
			}
			return &http.Cookie{Name: cookie.Name, Value: cookie.Value}
		}
	}
	a.t.Fatalf("login did not set the session cookie")
	return nil
}

func (a *testApp) createProject(cookie *http.Cookie, title, className string) int {
	a.t.Helper()
	recorder := a.doMultipart("/api/projects",
		map[string]string{"title": title, "description": "Read chapter 1", "className": className},
		&uploadFile{field: "pdf", name: "brief sheet.pdf", content: "%PDF-1.4"},
		cookie)
	if recorder.Code != http.StatusOK {
		a.t.Fatalf("create project failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var response struct {
		OK        bool `json:"ok"`
		ProjectID int  `json:"projectId"`
	}
	decode(a.t, recorder, &response)
	return response.ProjectID
}

func (a *testApp) listStudents(cookie *http.Cookie, projectID int, sort string) []studentPayload {
	a.t.Helper()
	path := "/api/projects/" + strconv.Itoa(projectID) + "/students"
	if sort != "" {
		path += "?sort=" + sort
	}
	recorder := a.doJSON(http.MethodGet, path, nil, cookie)
	if recorder.Code != http.StatusOK {
		a.t.Fatalf("list students failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var students []studentPayload
	decode(a.t, recorder, &students)
	return students
}

func (a *testApp) listProjects(cookie *http.Cookie) []projectSummaryPayload {
	a.t.Helper()
	recorder := a.doJSON(http.MethodGet, "/api/projects", nil, cookie)
	if recorder.Code != http.StatusOK {
		a.t.Fatalf("list projects failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var summaries []projectSummaryPayload
	decode(a.t, recorder, &summaries)
	return summaries
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode %q: %v", recorder.Body.String(), err)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func expectError(t *testing.T, recorder *httptest.ResponseRecorder, status int, token string) errorBody {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
	var body errorBody
	decode(t, recorder, &body)
	if body.Error != token {
		t.Fatalf("expected error %q, got %q", token, body.Error)
	}
	return body
}

func TestCourseworkScenarios(t *testing.T) {
	app := newTestApp(t)

	// Scenario A: a faculty member posts a project for CS101.
	app.register("f1", "pw", "Dr. Faculty", "faculty", "")
	faculty := app.login("f1", "pw")
	projectID := app.createProject(faculty, "HW1", "CS101")
	if projectID != 1 {
		t.Fatalf("expected project id 1, got %d", projectID)
	}
	summaries := app.listProjects(faculty)
	if len(summaries) != 1 {
		t.Fatalf("expected one project, got %d", len(summaries))
	}
	if summaries[0].Counts != (countsPayload{Total: 5}) {
		t.Fatalf("unexpected counts %#v", summaries[0].Counts)
	}
	if summaries[0].UploadDate != "2024-09-01 09:30:00" || summaries[0].FacultyName != "Dr. Faculty" {
		t.Fatalf("unexpected summary %#v", summaries[0])
	}
	if summaries[0].PDFFile != "uploads/projects/1725183000000_brief_sheet.pdf" {
		t.Fatalf("unexpected stored pdf path %q", summaries[0].PDFFile)
	}

	// Scenario B: Alice views the project.
	app.register("alice", "pw", "Alice Johnson", "student", "CS101")
	alice := app.login("alice", "pw")
	if recorder := app.doJSON(http.MethodPost, "/api/projects/1/view", nil, alice); recorder.Code != http.StatusOK {
		t.Fatalf("view failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if counts := app.listProjects(faculty)[0].Counts; counts != (countsPayload{Total: 5, Viewed: 1}) {
		t.Fatalf("unexpected counts after view %#v", counts)
	}

	// Scenario C: Alice submits and sorts first by submission.
	app.clock.now = app.clock.now.Add(time.Hour)
	recorder := app.doMultipart("/api/projects/1/submit", nil,
		&uploadFile{field: "file", name: "alice answers.pdf", content: "answers"}, alice)
	if recorder.Code != http.StatusOK {
		t.Fatalf("submit failed: %d %s", recorder.Code, recorder.Body.String())
	}
	students := app.listStudents(faculty, 1, "submitted")
	first := students[0]
	if first.RollNo != "CS101001" || !first.Submitted || !first.Viewed {
		t.Fatalf("unexpected first student %#v", first)
	}
	if first.SubmissionFile != "uploads/submissions/1725186600000_alice_answers.pdf" {
		t.Fatalf("unexpected submission file %q", first.SubmissionFile)
	}
	stored, err := os.ReadFile(filepath.Join(app.uploadsDir, "submissions", "1725186600000_alice_answers.pdf"))
	if err != nil || string(stored) != "answers" {
		t.Fatalf("expected stored submission, got %q %v", stored, err)
	}

	// Scenario D: the faculty member completes CS101001.
	recorder = app.doJSON(http.MethodPost, "/api/projects/1/students/CS101001/complete", map[string]bool{"completed": true}, faculty)
	if recorder.Code != http.StatusOK {
		t.Fatalf("complete failed: %d %s", recorder.Code, recorder.Body.String())
	}
	for _, state := range app.listStudents(faculty, 1, "") {
		if state.Completed != (state.RollNo == "CS101001") {
			t.Fatalf("unexpected completion flag for %s", state.RollNo)
		}
	}

	// Scenario E: a second faculty member cannot open the project.
	app.register("f2", "pw", "Dr. Other", "faculty", "")
	other := app.login("f2", "pw")
	expectError(t, app.doJSON(http.MethodGet, "/api/projects/1", nil, other), http.StatusForbidden, "forbidden")
	if len(app.listProjects(other)) != 0 {
		t.Fatalf("other faculty must not list the project")
	}
}

func TestLoginRejectsBadCaptcha(t *testing.T) {
	app := newTestApp(t)

	testCases := []struct {
		name   string
		mutate func(*captchaResponsePayload)
		expire bool
	}{
		{name: "mismatched", mutate: func(challenge *captchaResponsePayload) { challenge.Code = "zzzzzz!" }},
		{name: "unknown-token", mutate: func(challenge *captchaResponsePayload) { challenge.Token = "missing" }},
		{name: "expired", mutate: func(*captchaResponsePayload) {}, expire: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			challenge := app.captcha()
			testCase.mutate(&challenge)
			if testCase.expire {
				app.clock.now = app.clock.now.Add(auth.DefaultCaptchaTTL)
			}
			recorder := app.doJSON(http.MethodPost, "/api/login", map[string]string{
				"username": "faculty1",
				"password": "pass123",
				"token":    challenge.Token,
				"captcha":  challenge.Code,
			}, nil)
			expectError(t, recorder, http.StatusBadRequest, "captcha")
			if len(recorder.Result().Cookies()) != 0 {
				t.Fatalf("failed login must not set cookies")
			}
		})
	}
	if app.sessions.Len() != 0 {
		t.Fatalf("expected no sessions, got %d", app.sessions.Len())
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	app := newTestApp(t)
	challenge := app.captcha()
	recorder := app.doJSON(http.MethodPost, "/api/login", map[string]string{
		"username": "faculty1",
		"password": "nope",
		"token":    challenge.Token,
		"captcha":  challenge.Code,
	}, nil)
	expectError(t, recorder, http.StatusUnauthorized, "invalid")
}

func TestRegisterFailures(t *testing.T) {
	app := newTestApp(t)

	expectError(t, app.doJSON(http.MethodPost, "/api/register", map[string]string{
		"username": "faculty1", "password": "x", "name": "Dup", "role": "faculty",
	}, nil), http.StatusConflict, "exists")
	expectError(t, app.doJSON(http.MethodPost, "/api/register", map[string]string{
		"username": "nobody", "password": "x", "role": "student",
	}, nil), http.StatusBadRequest, "invalid")
	expectError(t, app.doJSON(http.MethodPost, "/api/register", map[string]string{
		"username": "admin", "password": "x", "name": "Root", "role": "admin",
	}, nil), http.StatusBadRequest, "invalid")

	form := httptest.NewRequest(http.MethodPost, "/api/register",
		strings.NewReader("username=bob&password=pw&name=Bob+Smith&role=student&className=CS101"))
	form.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if recorder := app.serve(form, nil); recorder.Code != http.StatusOK {
		t.Fatalf("form registration failed: %d %s", recorder.Code, recorder.Body.String())
	}
	app.login("bob", "pw")
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	app := newTestApp(t)

	paths := []struct {
		method string
		path   string
	}{
		{method: http.MethodGet, path: "/api/projects"},
		{method: http.MethodPost, path: "/api/projects"},
		{method: http.MethodGet, path: "/api/projects/1"},
		{method: http.MethodPost, path: "/api/projects/1/view"},
		{method: http.MethodPost, path: "/api/logout"},
	}
	for _, route := range paths {
		expectError(t, app.doJSON(route.method, route.path, nil, nil), http.StatusUnauthorized, "unauthorized")
		expectError(t, app.doJSON(route.method, route.path, nil, &http.Cookie{Name: testCookieName, Value: "forged"}),
			http.StatusUnauthorized, "unauthorized")
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	app := newTestApp(t)
	session := app.login("faculty1", "pass123")

	if recorder := app.doJSON(http.MethodPost, "/api/logout", nil, session); recorder.Code != http.StatusOK {
		t.Fatalf("logout failed: %d", recorder.Code)
	}
	expectError(t, app.doJSON(http.MethodGet, "/api/projects", nil, session), http.StatusUnauthorized, "unauthorized")
}

func TestStudentFailureMapping(t *testing.T) {
	app := newTestApp(t)
	smith := app.login("faculty1", "pass123")
	app.createProject(smith, "HW1", "CS101")

	// The bootstrap student is in CS101 but absent from its roster.
	john := app.login("student1", "pass123")
	body := expectError(t, app.doJSON(http.MethodPost, "/api/projects/1/view", nil, john), http.StatusBadRequest, "not_in_project")
	if body.Code != "projects.record_view.not_enrolled" {
		t.Fatalf("unexpected code %q", body.Code)
	}
	expectError(t, app.doJSON(http.MethodPost, "/api/projects/99/view", nil, john), http.StatusNotFound, "not_found")
	expectError(t, app.doJSON(http.MethodPost, "/api/projects/abc/view", nil, john), http.StatusNotFound, "not_found")
	expectError(t, app.doJSON(http.MethodPost, "/api/projects/1/view", nil, smith), http.StatusForbidden, "forbidden")

	expectError(t, app.doMultipart("/api/projects/1/submit", nil, nil, john), http.StatusBadRequest, "invalid")
	expectError(t, app.doMultipart("/api/projects/1/submit", nil,
		&uploadFile{field: "file", name: "late.pdf", content: "x"}, john), http.StatusBadRequest, "not_in_project")
	entries, err := os.ReadDir(filepath.Join(app.uploadsDir, "submissions"))
	if err != nil {
		t.Fatalf("failed to read submissions dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected submissions must not leave files behind, found %d", len(entries))
	}

	expectError(t, app.doJSON(http.MethodGet, "/api/projects/1/students", nil, john), http.StatusForbidden, "forbidden")
}

func TestFacultyFailureMapping(t *testing.T) {
	app := newTestApp(t)
	smith := app.login("faculty1", "pass123")
	app.createProject(smith, "HW1", "CS101")

	expectError(t, app.doMultipart("/api/projects",
		map[string]string{"title": "No file", "className": "CS101"}, nil, smith), http.StatusBadRequest, "invalid")

	john := app.login("student1", "pass123")
	expectError(t, app.doMultipart("/api/projects",
		map[string]string{"title": "Nope", "className": "CS101"},
		&uploadFile{field: "pdf", name: "x.pdf", content: "x"}, john), http.StatusForbidden, "forbidden")

	body := expectError(t, app.doJSON(http.MethodPost, "/api/projects/1/students/CS999/complete",
		map[string]bool{"completed": true}, smith), http.StatusNotFound, "student_not_found")
	if body.Code != "projects.set_completion.student_not_found" {
		t.Fatalf("unexpected code %q", body.Code)
	}
	expectError(t, app.doJSON(http.MethodPost, "/api/projects/7/students/CS101001/complete",
		map[string]bool{"completed": true}, smith), http.StatusNotFound, "not_found")
	expectError(t, app.doJSON(http.MethodGet, "/api/projects/7", nil, smith), http.StatusNotFound, "not_found")
}

func TestSetCompletionWithoutBodyClearsFlag(t *testing.T) {
	app := newTestApp(t)
	smith := app.login("faculty1", "pass123")
	app.createProject(smith, "HW1", "CS101")
	app.doJSON(http.MethodPost, "/api/projects/1/students/CS101002/complete", map[string]bool{"completed": true}, smith)

	if recorder := app.doJSON(http.MethodPost, "/api/projects/1/students/CS101002/complete", nil, smith); recorder.Code != http.StatusOK {
		t.Fatalf("complete without body failed: %d %s", recorder.Code, recorder.Body.String())
	}
	for _, state := range app.listStudents(smith, 1, "completed") {
		if state.Completed {
			t.Fatalf("expected no completed students, found %s", state.RollNo)
		}
	}
}

func TestProjectDetailAndUploadServing(t *testing.T) {
	app := newTestApp(t)
	smith := app.login("faculty1", "pass123")
	app.createProject(smith, "HW1", "CS101")

	recorder := app.doJSON(http.MethodGet, "/api/projects/1", nil, smith)
	if recorder.Code != http.StatusOK {
		t.Fatalf("detail failed: %d", recorder.Code)
	}
	var detail projectDetailPayload
	decode(t, recorder, &detail)
	if detail.Title != "HW1" || detail.Description != "Read chapter 1" || detail.ClassName != "CS101" {
		t.Fatalf("unexpected detail %#v", detail)
	}

	download := app.doJSON(http.MethodGet, "/"+detail.PDFFile, nil, nil)
	if download.Code != http.StatusOK {
		t.Fatalf("expected stored file to be served, got %d", download.Code)
	}
	if download.Body.String() != "%PDF-1.4" {
		t.Fatalf("unexpected file content %q", download.Body.String())
	}
}

func TestInternalFailuresAreLogged(t *testing.T) {
	app := newTestApp(t)
	smith := app.login("faculty1", "pass123")
	if err := os.WriteFile(filepath.Join(app.dataDir, "projects.txt"), []byte("x|broken||||||\n"), 0o644); err != nil {
		t.Fatalf("failed to corrupt index: %v", err)
	}

	body := expectError(t, app.doJSON(http.MethodGet, "/api/projects", nil, smith), http.StatusInternalServerError, "internal")
	if body.Code != "projects.store.load.index_read_failed" {
		t.Fatalf("unexpected code %q", body.Code)
	}
	if len(app.logs.FilterMessage("request failed").All()) != 1 {
		t.Fatalf("expected the failure to be logged once by the router")
	}
}

func TestCORSAllowsCredentialedOrigin(t *testing.T) {
	app := newTestApp(t)

	request := httptest.NewRequest(http.MethodOptions, "/api/projects", http.NoBody)
	request.Header.Set("Origin", "https://coursework.example.edu")
	request.Header.Set("Access-Control-Request-Method", http.MethodGet)

	recorder := app.serve(request, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if origin := recorder.Header().Get("Access-Control-Allow-Origin"); origin != "https://coursework.example.edu" {
		t.Fatalf("expected origin to be echoed, got %q", origin)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
}

func TestCORSConfigRestrictsListedOrigins(t *testing.T) {
	cfg := corsConfig([]string{" https://a.example.edu ", ""})
	if cfg.AllowOriginFunc != nil {
		t.Fatalf("explicit origins must not allow everything")
	}
	if len(cfg.AllowOrigins) != 1 || cfg.AllowOrigins[0] != "https://a.example.edu" {
		t.Fatalf("unexpected origins %v", cfg.AllowOrigins)
	}
	if corsConfig(nil).AllowOriginFunc == nil {
		t.Fatalf("empty origin list should allow every origin")
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err != errMissingAuthService {
		t.Fatalf("expected missing auth error, got %v", err)
	}
}
