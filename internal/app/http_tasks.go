package app

import (
	"net/http"
	"strings"

	"taskflow/internal/attachments"
)

const uploadMemory = 8 << 20

// routeTasks serves /api/tasks and everything below it.
func (s *HTTPServer) routeTasks(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		if r.Method == http.MethodGet {
			items, err := s.service.ListMyTasks(ctx, session)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"tasks": items})
			return
		}
		if r.Method == http.MethodPost {
			var body TaskInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			task, err := s.service.CreateTask(ctx, session, body)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, task)
			return
		}
		methodNotAllowed(w)
		return
	}

	if len(parts) == 1 && parts[0] == "search" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleTaskSearch(w, r, session)
		return
	}

	if len(parts) == 1 && parts[0] == "workload" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		workload, err := s.service.Workload(ctx, session)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, workload)
		return
	}

	taskID := parts[0]
	if len(parts) == 1 {
		s.handleTask(w, r, session, taskID)
		return
	}
	if len(parts) != 2 {
		routeNotFound(w)
		return
	}

	switch parts[1] {
	case "assign", "transition", "parent":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleTaskAction(w, r, session, taskID, parts[1])
	case "subtasks":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		items, err := s.service.Subtasks(ctx, session, taskID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": items})
	case "comments":
		s.handleTaskComments(w, r, session, taskID)
	case "attachments":
		s.handleTaskAttachments(w, r, session, taskID)
	default:
		routeNotFound(w)
	}
}

func (s *HTTPServer) handleTask(w http.ResponseWriter, r *http.Request, session Session, taskID string) {
	if r.Method == http.MethodGet {
		task, err := s.service.GetTask(r.Context(), session, taskID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
		return
	}

	if r.Method == http.MethodPut {
		var body TaskPatch
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		task, err := s.service.UpdateTask(r.Context(), session, taskID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteTask(r.Context(), session, taskID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	methodNotAllowed(w)
}

func (s *HTTPServer) handleTaskAction(w http.ResponseWriter, r *http.Request, session Session, taskID, action string) {
	var body struct {
		AssigneeID string `json:"assigneeId"`
		Status     string `json:"status"`
		ParentID   string `json:"parentId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	var (
		task any
		err  error
	)
	switch action {
	case "assign":
		task, err = s.service.AssignTask(r.Context(), session, taskID, body.AssigneeID)
	case "transition":
		task, err = s.service.TransitionTask(r.Context(), session, taskID, body.Status)
	case "parent":
		task, err = s.service.SetParent(r.Context(), session, taskID, body.ParentID)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleTaskSearch(w http.ResponseWriter, r *http.Request, session Session) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	query := r.URL.Query()
	payload, err := s.service.SearchTasks(r.Context(), session, SearchInput{
		Text:     query.Get("q"),
		Status:   query.Get("status"),
		Priority: query.Get("priority"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleTaskComments(w http.ResponseWriter, r *http.Request, session Session, taskID string) {
	if r.Method == http.MethodGet {
		items, err := s.service.ListComments(r.Context(), session, taskID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": items})
		return
	}

	if r.Method == http.MethodPost {
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.AddComment(r.Context(), session, taskID, body.Body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)
		return
	}

	methodNotAllowed(w)
}

// handleTaskAttachments accepts uploads as multipart/form-data with the
// content in the "file" field.
func (s *HTTPServer) handleTaskAttachments(w http.ResponseWriter, r *http.Request, session Session, taskID string) {
	if r.Method == http.MethodGet {
		items, err := s.service.ListAttachments(r.Context(), session, taskID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"attachments": items})
		return
	}

	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, attachments.MaxSize+uploadMemory)
		if err := r.ParseMultipartForm(uploadMemory); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "expected a multipart upload within the size limit", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is required", nil)
			return
		}
		defer file.Close()

		item, err := s.service.UploadAttachment(r.Context(), session, taskID, header.Filename,
			strings.TrimSpace(header.Header.Get("Content-Type")), header.Size, file)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
		return
	}

	methodNotAllowed(w)
}

func (s *HTTPServer) routeComments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 1 {
		routeNotFound(w)
		return
	}
	commentID := parts[0]

	if r.Method == http.MethodPut {
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.EditComment(r.Context(), session, commentID, body.Body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, comment)
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteComment(r.Context(), session, commentID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	methodNotAllowed(w)
}

func (s *HTTPServer) routeAttachments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 1 {
		routeNotFound(w)
		return
	}
	attachmentID := parts[0]

	if r.Method == http.MethodGet {
		link, err := s.service.AttachmentURL(r.Context(), session, attachmentID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, link)
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteAttachment(r.Context(), session, attachmentID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	methodNotAllowed(w)
}

// routeNotifications serves the caller's own inbox.
func (s *HTTPServer) routeNotifications(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		page, err := queryInt(r, "page", 1)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		perPage, err := queryInt(r, "perPage", 0)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		unreadOnly := r.URL.Query().Get("unread") == "true"
		result, err := s.service.ListNotifications(ctx, session, page, perPage, unreadOnly)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if len(parts) == 1 {
		switch {
		case parts[0] == "unread-count" && r.Method == http.MethodGet:
			count, err := s.service.UnreadCount(ctx, session)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"count": count})
		case parts[0] == "summary" && r.Method == http.MethodGet:
			summary, err := s.service.NotificationSummary(ctx, session)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, summary)
		case parts[0] == "read-all" && r.Method == http.MethodPost:
			updated, err := s.service.MarkAllNotificationsRead(ctx, session)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
		case parts[0] == "unread-count", parts[0] == "summary", parts[0] == "read-all":
			methodNotAllowed(w)
		default:
			routeNotFound(w)
		}
		return
	}

	if len(parts) == 2 && (parts[1] == "read" || parts[1] == "unread") {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		item, err := s.service.MarkNotificationRead(ctx, session, parts[0], parts[1] == "read")
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
		return
	}

	routeNotFound(w)
}
