package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"taskflow/internal/attachments"
	"taskflow/internal/cache"
	"taskflow/internal/notify"
	"taskflow/internal/rbac"
	"taskflow/internal/store"
)

const maxCommentLength = 5000

type AttachmentLink struct {
	store.Attachment
	URL string `json:"url"`
}

func (s *Service) ListComments(ctx context.Context, session Session, taskID string) ([]store.Comment, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeTask(ctx, session, task, rbac.CapViewProject); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, s.keys.TaskComments(taskID), s.cfg.ListTTL, func(ctx context.Context) ([]store.Comment, error) {
		return s.store.ListComments(ctx, taskID)
	})
}

// AddComment is open to anyone who can see the task.
func (s *Service) AddComment(ctx context.Context, session Session, taskID, body string) (store.Comment, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return store.Comment{}, err
	}
	if err := s.authorizeTask(ctx, session, task, rbac.CapViewProject); err != nil {
		return store.Comment{}, err
	}
	text, err := requireText("body", body, maxCommentLength)
	if err != nil {
		return store.Comment{}, err
	}

	comment, err := s.store.InsertComment(ctx, store.Comment{
		ID:       s.newID(),
		TaskID:   task.ID,
		AuthorID: session.UserID,
		Body:     text,
	})
	if err != nil {
		return store.Comment{}, err
	}
	ctx = afterCommit(ctx)
	s.cache.Invalidate(ctx, s.keys.ForComments(task.ID))
	s.notifier.NotifyAll(ctx, []string{task.AssignedTo, task.CreatedBy}, session.UserID, notify.Message{
		Type:          notify.TypeTaskComment,
		Title:         "New comment",
		Message:       fmt.Sprintf("%s commented on '%s'", session.UserName, task.Title),
		TaskID:        task.ID,
		ProjectID:     task.ProjectID,
		RelatedUserID: session.UserID,
	})
	s.notifier.Broadcast(ctx, s.taskAudience(ctx, task), notify.EventCommentAdded, comment)
	return comment, nil
}

// EditComment and DeleteComment need both authorship and current access to
// the task, so a removed member can no longer touch their old comments.
func (s *Service) EditComment(ctx context.Context, session Session, commentID, body string) (store.Comment, error) {
	comment, err := s.authorizeComment(ctx, session, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	text, err := requireText("body", body, maxCommentLength)
	if err != nil {
		return store.Comment{}, err
	}
	updated, err := s.store.UpdateComment(ctx, comment.ID, text)
	if err != nil {
		return store.Comment{}, err
	}
	s.cache.Invalidate(afterCommit(ctx), s.keys.ForComments(comment.TaskID))
	return updated, nil
}

func (s *Service) DeleteComment(ctx context.Context, session Session, commentID string) error {
	comment, err := s.authorizeComment(ctx, session, commentID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteComment(ctx, comment.ID); err != nil {
		return err
	}
	s.cache.Invalidate(afterCommit(ctx), s.keys.ForComments(comment.TaskID))
	return nil
}

func (s *Service) authorizeComment(ctx context.Context, session Session, commentID string) (store.Comment, error) {
	comment, err := s.loadComment(ctx, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	task, err := s.loadTask(ctx, comment.TaskID)
	if err != nil {
		return store.Comment{}, err
	}
	if err := s.authorizeTask(ctx, session, task, rbac.CapViewProject); err != nil {
		return store.Comment{}, err
	}
	if comment.AuthorID != session.UserID {
		return store.Comment{}, forbidden()
	}
	return comment, nil
}

func (s *Service) loadComment(ctx context.Context, commentID string) (store.Comment, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Comment{}, notFound("Comment")
	}
	return comment, err
}

func (s *Service) ListAttachments(ctx context.Context, session Session, taskID string) ([]store.Attachment, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeTask(ctx, session, task, rbac.CapViewProject); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, s.keys.TaskAttachments(taskID), s.cfg.ListTTL, func(ctx context.Context) ([]store.Attachment, error) {
		return s.store.ListAttachments(ctx, taskID)
	})
}

// UploadAttachment stores the object first and the row second. A failed row
// insert removes the object again.
func (s *Service) UploadAttachment(ctx context.Context, session Session, taskID, fileName, contentType string, size int64, body io.Reader) (store.Attachment, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return store.Attachment{}, err
	}
	if err := s.authorizeTask(ctx, session, task, rbac.CapEditTasks); err != nil {
		return store.Attachment{}, err
	}
	if size <= 0 {
		return store.Attachment{}, validation("file is empty")
	}
	if size > attachments.MaxSize {
		return store.Attachment{}, validation(fmt.Sprintf("file exceeds the %d MB limit", attachments.MaxSize>>20))
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	item := store.Attachment{
		ID:          s.newID(),
		TaskID:      task.ID,
		UploaderID:  session.UserID,
		FileName:    attachments.CleanFileName(fileName),
		ContentType: contentType,
		Size:        size,
	}
	item.ObjectKey = attachments.ObjectKey(task.ID, item.ID, item.FileName)

	if err := s.objects.Put(ctx, item.ObjectKey, body, size, contentType); err != nil {
		return store.Attachment{}, err
	}
	created, err := s.store.InsertAttachment(ctx, item)
	if err != nil {
		s.removeObjects(ctx, []string{item.ObjectKey})
		return store.Attachment{}, err
	}
	s.cache.Invalidate(afterCommit(ctx), s.keys.ForAttachments(task.ID))
	s.logger.InfoContext(ctx, "attachment uploaded", "task_id", task.ID, "attachment_id", created.ID, "size", size)
	return created, nil
}

// AttachmentURL returns a short-lived download link.
func (s *Service) AttachmentURL(ctx context.Context, session Session, attachmentID string) (AttachmentLink, error) {
	item, task, err := s.loadAttachment(ctx, attachmentID)
	if err != nil {
		return AttachmentLink{}, err
	}
	if err := s.authorizeTask(ctx, session, task, rbac.CapViewProject); err != nil {
		return AttachmentLink{}, err
	}
	url, err := s.objects.URL(ctx, item.ObjectKey, item.FileName)
	if err != nil {
		return AttachmentLink{}, err
	}
	return AttachmentLink{Attachment: item, URL: url}, nil
}

// DeleteAttachment is allowed for the uploader and for anyone who may
// delete tasks of the owning project.
func (s *Service) DeleteAttachment(ctx context.Context, session Session, attachmentID string) error {
	item, task, err := s.loadAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	capability := rbac.CapDeleteTasks
	if item.UploaderID == session.UserID {
		capability = rbac.CapViewProject
	}
	if err := s.authorizeTask(ctx, session, task, capability); err != nil {
		return err
	}
	if err := s.store.DeleteAttachment(ctx, item.ID); err != nil {
		return err
	}
	ctx = afterCommit(ctx)
	s.cache.Invalidate(ctx, s.keys.ForAttachments(task.ID))
	s.removeObjects(ctx, []string{item.ObjectKey})
	return nil
}

func (s *Service) loadAttachment(ctx context.Context, attachmentID string) (store.Attachment, store.Task, error) {
	item, err := s.store.GetAttachment(ctx, attachmentID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Attachment{}, store.Task{}, notFound("Attachment")
	}
	if err != nil {
		return store.Attachment{}, store.Task{}, err
	}
	task, err := s.loadTask(ctx, item.TaskID)
	if err != nil {
		return store.Attachment{}, store.Task{}, err
	}
	return item, task, nil
}

// attachmentKeys collects object keys before their rows disappear with a
// cascading delete.
func (s *Service) attachmentKeys(ctx context.Context, tasks []store.Task) []string {
	var keys []string
	for _, task := range tasks {
		items, err := s.store.ListAttachments(ctx, task.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "attachment lookup failed", "task_id", task.ID, "err", err)
			continue
		}
		for _, item := range items {
			keys = append(keys, item.ObjectKey)
		}
	}
	return keys
}

// removeObjects deletes stored objects whose rows are already gone. Failures
// leave orphans behind and are only logged.
func (s *Service) removeObjects(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.objects.Remove(ctx, key); err != nil && !errors.Is(err, attachments.ErrDisabled) {
			s.logger.WarnContext(ctx, "object removal failed", "key", key, "err", err)
		}
	}
}
