// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package enforcement carries the classification rules that ship inside
// the binary. Embedding keeps the rules immutable on the host machine;
// changing them means shipping a new build, which is the point.
package enforcement

import _ "embed"

// ClassificationRules is the raw YAML the policy engine parses at
// startup. See data_classification_patterns.yaml for the schema and
// for the reasoning behind which patterns are included.
//
//go:embed data_classification_patterns.yaml
var ClassificationRules []byte
