package mysql

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/learnfeed/learnfeed-go/pkg/storage"
)

// compactJSON returns data with insignificant whitespace removed.
func compactJSON(data []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// buildWhereClause builds a WHERE clause selecting one record.
func buildWhereClause(learnerID string, kind storage.Kind) (string, []interface{}) {
	conditions := []string{}
	args := []interface{}{}

	if learnerID != "" {
		conditions = append(conditions, "learner_id = ?")
		args = append(args, learnerID)
	}

	if kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(kind))
	}

	if len(conditions) == 0 {
		return "", args
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// generateHash generates an MD5 hash for content.
func generateHash(content string) string {
	hash := md5.Sum([]byte(content))
	return hex.EncodeToString(hash[:])
}
