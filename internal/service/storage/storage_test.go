package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiwangfds/medcap/config"
)

func TestPatientFolder(t *testing.T) {
	assert.Equal(t, "PATIENT_42/PATIENT_42_captured_gps_images", PatientFolder(42, CategoryCapturedImages))
	assert.Equal(t, "PATIENT_7/PATIENT_7_deleted_files", PatientFolder(7, CategoryDeleted))
}

func TestGeneratedName(t *testing.T) {
	name := GeneratedName(1001, "AdmissionSummary", ".PDF")
	assert.Regexp(t, regexp.MustCompile(`^IP1001AdmissionSummaryNO[0-9a-f]{8}\.pdf$`), name)

	assert.True(t, strings.HasPrefix(GeneratedName(5, "", "jpg"), "IP5no-tagNO"))
	assert.True(t, strings.HasSuffix(GeneratedName(5, "X", ""), ".bin"))
	assert.NotEqual(t, GeneratedName(5, "X", "jpg"), GeneratedName(5, "X", "jpg"))
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "report_final.pdf", SanitizeFileName("../../report final.pdf"))
	assert.Equal(t, "scan.png", SanitizeFileName(`C:\Users\x\scan.png`))
	assert.Equal(t, "file", SanitizeFileName(".."))
}

func TestCleanKey(t *testing.T) {
	k, err := CleanKey("/a//b/./c.txt")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c.txt", k)

	_, err = CleanKey("a/../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = CleanKey("")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestIssueAttachmentKey(t *testing.T) {
	assert.Equal(t, "issue_attachments/3/screen_shot.png", IssueAttachmentKey(3, "screen shot.png"))
}

func TestNewUnsupportedBackend(t *testing.T) {
	_, err := New(config.StorageConfig{Backend: "floppy"})
	assert.Error(t, err)
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := New(config.StorageConfig{Backend: "local", Root: root, PublicBaseURL: "/media/"})
	require.NoError(t, err)

	t.Run("put and open", func(t *testing.T) {
		n, err := store.Put(ctx, "PATIENT_1/a.txt", strings.NewReader("hello"), "text/plain")
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)

		rc, err := store.Open(ctx, "PATIENT_1/a.txt")
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))

		entries, err := os.ReadDir(filepath.Join(root, "PATIENT_1"))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temp files must not be left behind")
	})

	t.Run("move", func(t *testing.T) {
		require.NoError(t, store.Move(ctx, "PATIENT_1/a.txt", "PATIENT_1/deleted/a.txt"))

		ok, err := store.Exists(ctx, "PATIENT_1/a.txt")
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = store.Exists(ctx, "PATIENT_1/deleted/a.txt")
		require.NoError(t, err)
		assert.True(t, ok)

		assert.ErrorIs(t, store.Move(ctx, "PATIENT_1/missing.txt", "x.txt"), ErrObjectNotFound)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "PATIENT_1/deleted/a.txt"))
		require.NoError(t, store.Delete(ctx, "PATIENT_1/deleted/a.txt"))

		_, err := store.Open(ctx, "PATIENT_1/deleted/a.txt")
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("rejects traversal", func(t *testing.T) {
		_, err := store.Put(ctx, "../escape.txt", strings.NewReader("x"), "")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("url", func(t *testing.T) {
		assert.Equal(t, "/media/PATIENT_1/b.jpg", store.URL("PATIENT_1/b.jpg"))
	})
}
