// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package midterm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// ProjectMemoryClassName is the Weaviate class holding mid-term records.
const ProjectMemoryClassName = "ProjectMemory"

// EnsureSchema creates the ProjectMemory class if it does not exist.
//
// Description:
//
//	The class stores caller-supplied vectors (vectorizer "none") with
//	projectId as a filterable scalar field rather than a physical
//	partition. Existing classes are left untouched.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	client - Weaviate client. Must not be nil.
//
// Outputs:
//
//	error - Non-nil if the schema check or creation fails.
func EnsureSchema(ctx context.Context, client *weaviate.Client) error {
	exists, err := client.Schema().ClassExistenceChecker().
		WithClassName(ProjectMemoryClassName).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("check %s class: %w", ProjectMemoryClassName, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:       ProjectMemoryClassName,
		Description: "Mid-term memory records with caller-supplied embeddings",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "memoryId", DataType: []string{"text"}},
			{Name: "projectId", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "metadata", DataType: []string{"text"}},
			{Name: "createdAt", DataType: []string{"date"}},
		},
	}

	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create %s class: %w", ProjectMemoryClassName, err)
	}

	slog.Info("Created Weaviate class", "class", ProjectMemoryClassName)
	return nil
}
