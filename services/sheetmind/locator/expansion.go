// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package locator

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/KodiakSheets/services/sheetmind/compress"
)

// runDependencyExpansion augments the candidate set with what the
// candidates read from: direct dependencies first, then the rest of the
// transitive closure at lower confidence. Dependents are never added;
// what reads FROM a candidate does not help answer a question about it.
func (l *Locator) runDependencyExpansion(ctx context.Context, acc *accumulator) {
	if l.graph == nil || acc.empty() {
		return
	}
	_, span := tracer.Start(ctx, "Locator.dependencyExpansion")
	defer span.End()

	// Expansion works off the candidates found by the earlier states,
	// not off chunks it adds itself.
	candidates := append([]string(nil), acc.ids...)

	direct := 0
	for _, id := range candidates {
		for _, dep := range l.graph.DependencyChunks(id) {
			if acc.add(dep, ConfidenceDirectDependency) {
				l.recordExpandedSheet(acc, dep)
				direct++
			}
		}
	}

	closure := l.graph.TransitiveDependencies(candidates)
	remote := make([]string, 0, len(closure))
	for id := range closure {
		if !acc.has(id) {
			remote = append(remote, id)
		}
	}
	sort.Strings(remote)
	for _, id := range remote {
		if acc.add(id, ConfidenceTransitiveDependency) {
			l.recordExpandedSheet(acc, id)
		}
	}

	span.SetAttributes(
		attribute.Int("direct_added", direct),
		attribute.Int("transitive_added", len(remote)),
	)
}

func (l *Locator) recordExpandedSheet(acc *accumulator, id string) {
	if name, ok := compress.SheetNameFromID(id); ok {
		acc.addSheetDetail(name)
	}
}
