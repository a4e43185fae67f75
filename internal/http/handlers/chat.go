package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/chat"
	"github.com/relaychat/server/internal/middleware"
	"github.com/relaychat/server/internal/model"
	"github.com/relaychat/server/internal/ratelimit"
)

// ChatHandler serves chatroom and message endpoints
type ChatHandler struct {
	chats      *chat.Service
	dispatcher *chat.Dispatcher
	log        *zap.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chats *chat.Service, dispatcher *chat.Dispatcher, log *zap.Logger) *ChatHandler {
	return &ChatHandler{chats: chats, dispatcher: dispatcher, log: log}
}

type createChatroomRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=8000"`
}

type chatroomResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type chatroomDetailResponse struct {
	chatroomResponse
	Messages []messageResponseBody `json:"messages"`
}

type messageResponseBody struct {
	ID          string     `json:"id"`
	ChatroomID  string     `json:"chatroom_id"`
	Content     string     `json:"content"`
	Status      string     `json:"status"`
	Completion  *string    `json:"completion"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type receiptResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func toChatroomResponse(room model.Chatroom) chatroomResponse {
	return chatroomResponse{ID: room.ID.String(), Name: room.Name, CreatedAt: room.CreatedAt}
}

func toMessageResponse(m model.Message) messageResponseBody {
	return messageResponseBody{
		ID:          m.ID.String(),
		ChatroomID:  m.ChatroomID.String(),
		Content:     m.Content,
		Status:      string(m.Status),
		Completion:  m.Completion,
		Error:       m.Error,
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, &validationError{msg: name + " must be a valid UUID"}
	}
	return id, nil
}

func setQuotaHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Unlimited || d.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
}

// HandleCreateChatroom handles POST /chatroom
func (h *ChatHandler) HandleCreateChatroom(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		respondErr(w, h.log, apperror.ErrUnauthorized)
		return
	}
	var req createChatroomRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondErr(w, h.log, err)
		return
	}
	room, err := h.chats.CreateChatroom(r.Context(), user.ID, req.Name)
	if err != nil {
		respondErr(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, toChatroomResponse(room))
}

// HandleListChatrooms handles GET /chatroom
func (h *ChatHandler) HandleListChatrooms(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		respondErr(w, h.log, apperror.ErrUnauthorized)
		return
	}
	rooms, err := h.chats.ListChatrooms(r.Context(), user.ID)
	if err != nil {
		respondErr(w, h.log, err)
		return
	}
	resp := make([]chatroomResponse, 0, len(rooms))
	for _, room := range rooms {
		resp = append(resp, toChatroomResponse(room))
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleGetChatroom handles GET /chatroom/{id}
func (h *ChatHandler) HandleGetChatroom(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		respondErr(w, h.log, apperror.ErrUnauthorized)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		respondErr(w, h.log, err)
		return
	}
	detail, err := h.chats.GetChatroom(r.Context(), user.ID, id)
	if err != nil {
		respondErr(w, h.log, err)
		return
	}
	msgs := make([]messageResponseBody, 0, len(detail.Messages))
	for _, m := range detail.Messages {
		msgs = append(msgs, toMessageResponse(m))
	}
	respondJSON(w, http.StatusOK, chatroomDetailResponse{
		chatroomResponse: toChatroomResponse(detail.Chatroom),
		Messages:         msgs,
	})
}

// HandleSendMessage handles POST /chatroom/{id}/message. The completion is
// produced in the background; the caller polls GET /chatroom/message/{id}.
func (h *ChatHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	user, id, req, ok := h.sendRequest(w, r)
	if !ok {
		return
	}
	msg, decision, err := h.dispatcher.SendAsync(r.Context(), *user, id, req.Content)
	setQuotaHeaders(w, decision)
	if err != nil {
		respondErr(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusAccepted, receiptResponse{MessageID: msg.ID.String(), Status: string(msg.Status)})
}

// HandleSendMessageSync handles POST /chatroom/{id}/sync-message
func (h *ChatHandler) HandleSendMessageSync(w http.ResponseWriter, r *http.Request) {
	user, id, req, ok := h.sendRequest(w, r)
	if !ok {
		return
	}
	msg, decision, err := h.dispatcher.SendSync(r.Context(), *user, id, req.Content)
	setQuotaHeaders(w, decision)
	if err != nil {
		if errors.Is(err, apperror.ErrProviderFailure) && msg.ID != uuid.Nil {
			respondJSON(w, http.StatusBadGateway, struct {
				errorResponse
				Message messageResponseBody `json:"message"`
			}{
				errorResponse: errorResponse{Error: apperror.Message(err), Code: apperror.Code(err)},
				Message:       toMessageResponse(msg),
			})
			return
		}
		respondErr(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, toMessageResponse(msg))
}

func (h *ChatHandler) sendRequest(w http.ResponseWriter, r *http.Request) (*model.User, uuid.UUID, sendMessageRequest, bool) {
	var req sendMessageRequest
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		respondErr(w, h.log, apperror.ErrUnauthorized)
		return nil, uuid.Nil, req, false
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		respondErr(w, h.log, err)
		return nil, uuid.Nil, req, false
	}
	if err := decodeAndValidate(r, &req); err != nil {
		respondErr(w, h.log, err)
		return nil, uuid.Nil, req, false
	}
	return user, id, req, true
}

// HandleGetMessage handles GET /chatroom/message/{id}
func (h *ChatHandler) HandleGetMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		respondErr(w, h.log, apperror.ErrUnauthorized)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		respondErr(w, h.log, err)
		return
	}
	msg, err := h.chats.GetMessage(r.Context(), user.ID, id)
	if err != nil {
		respondErr(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toMessageResponse(msg))
}
