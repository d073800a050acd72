// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detector

import (
	"fmt"
	"regexp"
	"strings"
)

// Threshold defaults. The acceptance threshold always ends up inside
// [MinThreshold, MaxThreshold], whether adaptive or overridden.
const (
	DefaultBaseThreshold = 0.65
	DefaultMinThreshold  = 0.40
	DefaultMaxThreshold  = 0.85
)

// Signal deltas. Negative deltas loosen the threshold for output whose
// style legitimately diverges from stored prose (code, jargon, length);
// positive deltas tighten it when the evidence base or the author is
// suspect.
const (
	deltaLongOutput       = -0.05
	deltaDenseCode        = -0.08
	deltaSomeCode         = -0.03
	deltaTechnicalDensity = -0.05
	deltaScarceEvidence   = +0.05
	deltaRiskyUser        = +0.10
	deltaComplexTask      = -0.05
)

// Signal trigger conditions.
const (
	longOutputChars       = 200
	denseCodeBlocks       = 2
	technicalTermMatches  = 3
	scarceEvidenceCount   = 10
	riskyUserRate         = 0.10
	complexTaskChars      = 500
	complexTaskCodeBlocks = 4
	complexTaskItems      = 3
)

// SignalContext is optional caller-supplied context about the evidence
// base and the output's author.
type SignalContext struct {
	// MemoryCount is the caller's estimate of available memories for
	// the project. Nil means unknown (signal does not apply).
	MemoryCount *int `json:"memory_count,omitempty"`

	// UserHallucinationRate is the author's historical hallucination
	// rate in [0,1]. Nil means unknown.
	UserHallucinationRate *float64 `json:"user_hallucination_rate,omitempty"`
}

// listItemPattern matches one numbered or bulleted list item at the
// start of a line.
var listItemPattern = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[-*•])\s+\S`)

// technicalVocabulary is the fixed term list for the technical-density
// signal, matched case-insensitively on word boundaries.
var technicalVocabulary = []string{
	"api", "database", "function", "class", "method", "server",
	"endpoint", "query", "schema", "algorithm", "framework", "library",
	"runtime", "compile", "thread", "cache", "index", "protocol",
	"container", "deploy", "kubernetes", "docker", "migration", "token",
}

var technicalTermPattern = regexp.MustCompile(
	`(?i)\b(` + strings.Join(technicalVocabulary, "|") + `)\b`)

// adaptiveThreshold computes the similarity cutoff for one output.
//
// Description:
//
//	Starts from base, applies the signed delta of every matched signal
//	(deltas are additive, no interaction terms), and clamps into
//	[min, max]. Returns the threshold and the human-readable names of
//	the signals that fired, in evaluation order.
func adaptiveThreshold(base, min, max float64, output string, sigCtx *SignalContext) (float64, []string) {
	threshold := base
	applied := make([]string, 0, 7)
	apply := func(name string, delta float64) {
		threshold += delta
		applied = append(applied, fmt.Sprintf("%s %+.2f", name, delta))
	}

	codeBlocks := countFencedCodeBlocks(output)

	if len(output) > longOutputChars {
		apply("long output", deltaLongOutput)
	}
	switch {
	case codeBlocks > denseCodeBlocks:
		apply("dense code", deltaDenseCode)
	case codeBlocks > 0:
		apply("some code", deltaSomeCode)
	}
	if countTechnicalTerms(output) >= technicalTermMatches {
		apply("technical density", deltaTechnicalDensity)
	}
	if sigCtx != nil {
		if sigCtx.MemoryCount != nil && *sigCtx.MemoryCount < scarceEvidenceCount {
			apply("scarce evidence", deltaScarceEvidence)
		}
		if sigCtx.UserHallucinationRate != nil && *sigCtx.UserHallucinationRate > riskyUserRate {
			apply("risky user", deltaRiskyUser)
		}
	}
	if len(output) > complexTaskChars ||
		codeBlocks > complexTaskCodeBlocks ||
		countListItems(output) > complexTaskItems {
		apply("complex task", deltaComplexTask)
	}

	return clamp(threshold, min, max), applied
}

// countFencedCodeBlocks counts ``` fence pairs; an unclosed trailing
// fence does not count as a block.
func countFencedCodeBlocks(text string) int {
	return strings.Count(text, "```") / 2
}

// countTechnicalTerms counts vocabulary matches, repeats included.
func countTechnicalTerms(text string) int {
	return len(technicalTermPattern.FindAllStringIndex(text, -1))
}

// countListItems counts numbered or bulleted list items.
func countListItems(text string) int {
	return len(listItemPattern.FindAllStringIndex(text, -1))
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
