package app

import (
	"net/http"
)

// routeProjects serves /api/projects and everything below it.
func (s *HTTPServer) routeProjects(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		if r.Method == http.MethodGet {
			items, err := s.service.ListProjects(ctx, session)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"projects": items})
			return
		}
		if r.Method == http.MethodPost {
			var body ProjectInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			project, err := s.service.CreateProject(ctx, session, body)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, project)
			return
		}
		methodNotAllowed(w)
		return
	}

	if len(parts) == 1 && parts[0] == "recent" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		items, err := s.service.RecentProjects(ctx, session)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": items})
		return
	}

	projectID := parts[0]
	if len(parts) == 1 {
		s.handleProject(w, r, session, projectID)
		return
	}

	switch parts[1] {
	case "status":
		if len(parts) != 2 {
			break
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		project, err := s.service.TransitionProject(ctx, session, projectID, body.Status)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
		return

	case "metrics":
		if len(parts) != 2 {
			break
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		metrics, err := s.service.ProjectMetrics(ctx, session, projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, metrics)
		return

	case "members":
		if len(parts) == 2 {
			s.handleMembers(w, r, session, projectID)
			return
		}
		if len(parts) == 3 {
			s.handleMember(w, r, session, projectID, parts[2])
			return
		}

	case "sprints":
		if len(parts) == 2 {
			s.handleProjectSprints(w, r, session, projectID)
			return
		}
		if len(parts) == 3 && parts[2] == "active" {
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			sprint, err := s.service.ActiveSprint(ctx, session, projectID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, sprint)
			return
		}

	case "tasks":
		if len(parts) != 2 {
			break
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		items, err := s.service.ListProjectTasks(ctx, session, projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": items})
		return
	}

	routeNotFound(w)
}

func (s *HTTPServer) handleProject(w http.ResponseWriter, r *http.Request, session Session, projectID string) {
	if r.Method == http.MethodGet {
		project, err := s.service.GetProject(r.Context(), session, projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
		return
	}

	if r.Method == http.MethodPut {
		var body ProjectInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		project, err := s.service.UpdateProject(r.Context(), session, projectID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteProject(r.Context(), session, projectID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	methodNotAllowed(w)
}

func (s *HTTPServer) handleMembers(w http.ResponseWriter, r *http.Request, session Session, projectID string) {
	if r.Method == http.MethodGet {
		items, err := s.service.ListMembers(r.Context(), session, projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": items})
		return
	}

	if r.Method == http.MethodPost {
		var body MemberInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		member, err := s.service.AddMember(r.Context(), session, projectID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, member)
		return
	}

	methodNotAllowed(w)
}

func (s *HTTPServer) handleMember(w http.ResponseWriter, r *http.Request, session Session, projectID, userID string) {
	if r.Method == http.MethodPut {
		var body MemberInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		member, err := s.service.UpdateMember(r.Context(), session, projectID, userID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, member)
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.RemoveMember(r.Context(), session, projectID, userID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	methodNotAllowed(w)
}

func (s *HTTPServer) handleProjectSprints(w http.ResponseWriter, r *http.Request, session Session, projectID string) {
	if r.Method == http.MethodGet {
		items, err := s.service.ListSprints(r.Context(), session, projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sprints": items})
		return
	}

	if r.Method == http.MethodPost {
		var body SprintInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sprint, err := s.service.CreateSprint(r.Context(), session, projectID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sprint)
		return
	}

	methodNotAllowed(w)
}

// routeSprints serves /api/sprints/{id} and its actions.
func (s *HTTPServer) routeSprints(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		routeNotFound(w)
		return
	}
	ctx := r.Context()
	sprintID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			view, err := s.service.GetSprint(ctx, session, sprintID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, view)
		case http.MethodPut:
			var body SprintInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			sprint, err := s.service.UpdateSprint(ctx, session, sprintID, body)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, sprint)
		case http.MethodDelete:
			if err := s.service.DeleteSprint(ctx, session, sprintID); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 2 {
		var (
			payload any
			err     error
		)
		switch {
		case parts[1] == "burndown" && r.Method == http.MethodGet:
			payload, err = s.service.Burndown(ctx, session, sprintID)
		case parts[1] == "start" && r.Method == http.MethodPost:
			payload, err = s.service.StartSprint(ctx, session, sprintID)
		case parts[1] == "complete" && r.Method == http.MethodPost:
			payload, err = s.service.CompleteSprint(ctx, session, sprintID)
		case parts[1] == "cancel" && r.Method == http.MethodPost:
			payload, err = s.service.CancelSprint(ctx, session, sprintID)
		case parts[1] == "burndown", parts[1] == "start", parts[1] == "complete", parts[1] == "cancel":
			methodNotAllowed(w)
			return
		default:
			routeNotFound(w)
			return
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 3 && parts[1] == "tasks" {
		taskID := parts[2]
		if r.Method == http.MethodPost {
			task, err := s.service.AddTaskToSprint(ctx, session, sprintID, taskID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, task)
			return
		}
		if r.Method == http.MethodDelete {
			task, err := s.service.RemoveTaskFromSprint(ctx, session, sprintID, taskID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, task)
			return
		}
		methodNotAllowed(w)
		return
	}

	routeNotFound(w)
}
