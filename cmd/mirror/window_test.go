package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	models "conversa/internal/domain/models/discussion"
	discussionSvc "conversa/internal/domain/services/discussion"
)

func TestPrintWindow(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	page := &discussionSvc.WindowPage{
		Mode:   "threaded",
		Policy: "chronological",
		Range:  models.WindowRange{Start: 0, End: 1},
		Total:  2,
		Items: []discussionSvc.WindowItem{
			{ID: "p1", Index: 0, Prefix: "└─", DescendantCount: 1,
				Message: &models.Message{ID: "p1", Subject: "Hello", CreatorID: "u1", CreatedAt: at}},
			{ID: "p2", Index: 1, Level: 1, Prefix: "  └─",
				Message: &models.Message{ID: "p2", CreatorID: "u2", CreatedAt: at, Body: "a   reply\nwith lines"}},
		},
		Unavailable: []string{"p3"},
	}

	var buf bytes.Buffer
	assert.NoError(t, printWindow(&buf, page))
	out := buf.String()

	assert.Contains(t, out, "threaded / chronological, items 0-1 of 2")
	assert.Contains(t, out, "└─Hello")
	assert.Contains(t, out, "1 replies")
	assert.Contains(t, out, "  └─p2")
	assert.Contains(t, out, "a reply with lines")
	assert.Contains(t, out, "bodies unavailable: p3")
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", excerpt("short", 10))
	assert.Equal(t, "abcd…", excerpt("abcdefgh", 5))
	assert.Equal(t, "a b", excerpt(" a \n b ", 10))
}
