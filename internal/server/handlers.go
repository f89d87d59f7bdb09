package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark77234/Tomo/internal/appointments"
	"github.com/mark77234/Tomo/internal/auth"
	"github.com/mark77234/Tomo/internal/friends"
	"github.com/mark77234/Tomo/internal/groups"
	"github.com/mark77234/Tomo/internal/users"
)

type signupPayload struct {
	ExternalID string `json:"externalId" binding:"required"`
	Email      string `json:"email" binding:"required"`
	Username   string `json:"username" binding:"required"`
}

type loginPayload struct {
	IDToken string `json:"idToken" binding:"required"`
}

type usernamePayload struct {
	Username string `json:"username" binding:"required"`
}

type groupPayload struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Emails      []string `json:"emails"`
}

type appointmentPayload struct {
	GroupTitle string `json:"groupTitle" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Date       string `json:"date" binding:"required"`
	Time       string `json:"time" binding:"required"`
	Location   string `json:"location"`
}

type tokenResponse struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	AccessExpiresIn  int64  `json:"accessExpiresIn"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn"`
}

type profileResponse struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type friendResponse struct {
	Email      string `json:"email"`
	Username   string `json:"username"`
	Friendship int    `json:"friendship"`
	CreatedAt  string `json:"createdAt"`
}

type groupSummaryResponse struct {
	ID          int64     `json:"moimId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PeopleCount int       `json:"peopleCount"`
	Leader      bool      `json:"leader"`
	CreatedAt   time.Time `json:"createdAt"`
}

type groupCreatedResponse struct {
	ID          int64    `json:"moimId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	People      []string `json:"people"`
}

type memberResponse struct {
	Email  string `json:"email"`
	Leader bool   `json:"leader"`
}

type groupDetailResponse struct {
	ID          int64            `json:"moimId"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Members     []memberResponse `json:"members"`
	CreatedAt   time.Time        `json:"createdAt"`
}

type appointmentResponse struct {
	ID         int64  `json:"promiseId"`
	GroupTitle string `json:"moimTitle"`
	Name       string `json:"promiseName"`
	Date       string `json:"promiseDate"`
	Time       string `json:"promiseTime"`
	Location   string `json:"place"`
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var payload signupPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	_, err := h.users.Signup(c.Request.Context(), users.SignupRequest{
		ExternalID: payload.ExternalID,
		Username:   payload.Username,
		Email:      payload.Email,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success("signed up", nil))
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var payload loginPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "idToken required")
		return
	}
	pair, err := h.sessions.Login(c.Request.Context(), payload.IDToken)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success("logged in", tokenResponseOf(pair)))
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	refreshToken := strings.TrimSpace(c.GetHeader(refreshTokenHeader))
	if refreshToken == "" {
		c.JSON(http.StatusUnauthorized, failure("unauthorized", "refresh token required"))
		return
	}
	pair, err := h.sessions.Refresh(c.Request.Context(), refreshToken)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success("tokens refreshed", tokenResponseOf(pair)))
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if err := h.sessions.Logout(c.Request.Context(), externalID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success("logged out", nil))
}

func (h *httpHandler) handleDeleteUser(c *gin.Context) {
	if err := h.lifecycle.DeleteUser(c.Request.Context(), externalID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success("user deleted", nil))
}

func (h *httpHandler) handleUpdateUsername(c *gin.Context) {
	var payload usernamePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	user, err := h.users.UpdateUsername(c.Request.Context(), externalID(c), payload.Username)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success("username updated", profileResponse{Username: user.Username, Email: user.Email}))
}

func (h *httpHandler) handleAddFriend(c *gin.Context) {
	query, ok := requiredQuery(c, "query")
	if !ok {
		return
	}
	if err := h.friends.Add(c.Request.Context(), externalID(c), query); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, success("friend added", nil))
}

func (h *httpHandler) handleUserInfo(c *gin.Context) {
	query, ok := requiredQuery(c, "query")
	if !ok {
		return
	}
	profile, err := h.users.UserInfo(c.Request.Context(), query)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success("user found", profileResponse{Username: profile.Username, Email: profile.Email}))
}

func (h *httpHandler) handleRemoveFriend(c *gin.Context) {
	email, ok := requiredQuery(c, "friendEmail")
	if !ok {
		return
	}
	if err := h.friends.Remove(c.Request.Context(), externalID(c), email); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success("friend removed", nil))
}

func (h *httpHandler) handleFriendDetail(c *gin.Context) {
	query, ok := requiredQuery(c, "query")
	if !ok {
		return
	}
	friend, err := h.friends.Detail(c.Request.Context(), externalID(c), query)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success("friend detail", friendResponseOf(friend)))
}

func (h *httpHandler) handleListFriends(c *gin.Context) {
	list, err := h.friends.List(c.Request.Context(), externalID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]friendResponse, 0, len(list))
	for _, friend := range list {
		response = append(response, friendResponseOf(friend))
	}
	c.JSON(http.StatusOK, success("friends", response))
}

func (h *httpHandler) handleCreateGroup(c *gin.Context) {
	var payload groupPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	created, err := h.groups.Create(c.Request.Context(), groups.CreateRequest{
		LeaderExternalID: externalID(c),
		Title:            payload.Title,
		Description:      payload.Description,
		MemberEmails:     payload.Emails,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success("group created", groupCreatedResponse{
		ID:          created.ID,
		Title:       created.Title,
		Description: created.Description,
		People:      created.People,
	}))
}

func (h *httpHandler) handleListGroups(c *gin.Context) {
	list, err := h.groups.ListForUser(c.Request.Context(), externalID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]groupSummaryResponse, 0, len(list))
	for _, summary := range list {
		response = append(response, groupSummaryResponseOf(summary))
	}
	c.JSON(http.StatusOK, success("groups", response))
}

func (h *httpHandler) handleGroupSummary(c *gin.Context) {
	groupID, ok := groupIDParam(c)
	if !ok {
		return
	}
	summary, err := h.groups.Summary(c.Request.Context(), groupID, externalID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success("group", groupSummaryResponseOf(summary)))
}

func (h *httpHandler) handleGroupDetail(c *gin.Context) {
	groupID, ok := groupIDParam(c)
	if !ok {
		return
	}
	detail, err := h.groups.Detail(c.Request.Context(), groupID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	members := make([]memberResponse, 0, len(detail.Members))
	for _, member := range detail.Members {
		members = append(members, memberResponse{Email: member.Email, Leader: member.Leader})
	}
	c.JSON(http.StatusOK, success("group detail", groupDetailResponse{
		ID:          detail.ID,
		Title:       detail.Title,
		Description: detail.Description,
		Members:     members,
		CreatedAt:   detail.CreatedAt,
	}))
}

func (h *httpHandler) handleDeleteGroup(c *gin.Context) {
	groupID, ok := groupIDParam(c)
	if !ok {
		return
	}
	if err := h.lifecycle.DeleteGroup(c.Request.Context(), groupID, externalID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCreateAppointment(c *gin.Context) {
	var payload appointmentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	view, err := h.appointments.Create(c.Request.Context(), appointments.CreateRequest{
		GroupTitle: payload.GroupTitle,
		Name:       payload.Name,
		Date:       payload.Date,
		Time:       payload.Time,
		Location:   payload.Location,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success("appointment created", appointmentResponseOf(view)))
}

func (h *httpHandler) handleGetAppointment(c *gin.Context) {
	name, ok := requiredQuery(c, "name")
	if !ok {
		return
	}
	view, err := h.appointments.GetByName(c.Request.Context(), name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success("appointment", appointmentResponseOf(view)))
}

// handleListGroupAppointments takes the group title in the name parameter.
func (h *httpHandler) handleListGroupAppointments(c *gin.Context) {
	title, ok := requiredQuery(c, "name")
	if !ok {
		return
	}
	views, err := h.appointments.ListOfGroup(c.Request.Context(), title)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]appointmentResponse, 0, len(views))
	for _, view := range views {
		response = append(response, appointmentResponseOf(view))
	}
	c.JSON(http.StatusOK, success("appointments", response))
}

func externalID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}

func requiredQuery(c *gin.Context, name string) (string, bool) {
	value := strings.TrimSpace(c.Query(name))
	if value == "" {
		badRequest(c, name+" required")
		return "", false
	}
	return value, true
}

func groupIDParam(c *gin.Context) (int64, bool) {
	groupID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || groupID <= 0 {
		badRequest(c, "invalid group id")
		return 0, false
	}
	return groupID, true
}

func tokenResponseOf(pair auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresIn:  pair.AccessExpiresIn,
		RefreshExpiresIn: pair.RefreshExpiresIn,
	}
}

func friendResponseOf(friend friends.Friend) friendResponse {
	return friendResponse{
		Email:      friend.Email,
		Username:   friend.Username,
		Friendship: friend.Friendship,
		CreatedAt:  friend.CreatedOn.Format("2006-01-02"),
	}
}

func groupSummaryResponseOf(summary groups.Summary) groupSummaryResponse {
	return groupSummaryResponse{
		ID:          summary.ID,
		Title:       summary.Title,
		Description: summary.Description,
		PeopleCount: summary.PeopleCount,
		Leader:      summary.Leader,
		CreatedAt:   summary.CreatedAt,
	}
}

func appointmentResponseOf(view appointments.View) appointmentResponse {
	return appointmentResponse{
		ID:         view.ID,
		GroupTitle: view.GroupTitle,
		Name:       view.Name,
		Date:       view.Date,
		Time:       view.Time,
		Location:   view.Location,
	}
}
