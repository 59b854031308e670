// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/teradata-labs/skein/pkg/types"
)

// StoreFileContent freezes an attachment's bytes and returns the content id
// referenced by file-ref parts. Contents are immutable once stored.
func (s *Store) StoreFileContent(ctx context.Context, content []byte, mediaType string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_contents (id, media_type, size, content_blob)
		VALUES (?, ?, ?, ?)`, id, mediaType, len(content), content)
	if err != nil {
		return "", fmt.Errorf("store file content: %w", err)
	}
	return id, nil
}

// GetFileContent loads a frozen attachment by id.
func (s *Store) GetFileContent(ctx context.Context, id string) (*types.FileContent, error) {
	fc := &types.FileContent{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT media_type, size, content_blob FROM file_contents WHERE id = ?`, id).
		Scan(&fc.MediaType, &fc.Size, &fc.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file content: %w", err)
	}
	return fc, nil
}
