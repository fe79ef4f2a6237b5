package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/interfaces"
	"github.com/ternarybob/hrsync/internal/models"
)

func TestRemoteID(t *testing.T) {
	tests := []struct {
		name   string
		record models.RemoteRecord
		want   string
	}{
		{
			name:   "detail link object",
			record: models.RemoteRecord{"payDetailUri": map[string]any{"href": "/v1_0/O/A/payStatement/QUJDMTIz"}, "id": "other"},
			want:   "QUJDMTIz",
		},
		{
			name:   "detail link string",
			record: models.RemoteRecord{"payDetailUri": "/v1_0/O/A/payStatement/RkZG"},
			want:   "RkZG",
		},
		{
			name:   "link without marker falls through to id",
			record: models.RemoteRecord{"payDetailUri": map[string]any{"href": "/elsewhere"}, "id": "plain-id"},
			want:   "plain-id",
		},
		{
			name:   "numeric id",
			record: models.RemoteRecord{"id": float64(4021)},
			want:   "4021",
		},
		{
			name:   "empty id skipped",
			record: models.RemoteRecord{"id": "", "encoded_id": "enc"},
			want:   "enc",
		},
		{
			name:   "pay statement id",
			record: models.RemoteRecord{"payStatementId": "ps-9"},
			want:   "ps-9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RemoteID(tt.record)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRemoteID_NoMatch(t *testing.T) {
	_, err := RemoteID(models.RemoteRecord{"payDate": "2024-01-25", "amount": 10.0})

	var idErr *common.IdentifierExtractionError
	require.True(t, errors.As(err, &idErr))
	assert.Equal(t, []string{"amount", "payDate"}, idErr.Keys)
}

func TestRecordDate(t *testing.T) {
	tests := []struct {
		record models.RemoteRecord
		want   string
	}{
		{models.RemoteRecord{"payDate": "2024-03-28T00:00:00Z"}, "2024-03-28"},
		{models.RemoteRecord{"paymentDate": "2024-04-25"}, "2024-04-25"},
		{models.RemoteRecord{"payDate": 20240425.0, "periodEndDate": "2024-04-30"}, "2024-04-30"},
		{models.RemoteRecord{"amount": 1.0}, UnknownDate},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RecordDate(tt.record))
	}
}

func TestArtifactRefFor(t *testing.T) {
	record := models.RemoteRecord{
		"payDetailUri":      map[string]any{"href": "/v1_0/O/A/payStatement/QUJD"},
		"statementImageUri": map[string]any{"href": "/v1_0/O/A/payStatement/1f0c_44aa_9e/images/7d21_00b3.pdf"},
	}
	ref, ok := ArtifactRefFor(record)
	require.True(t, ok)
	assert.Equal(t, interfaces.ArtifactRef{StatementID: "1f0c_44aa_9e", ImageID: "7d21_00b3"}, ref)

	for name, href := range map[string]any{
		"missing":      nil,
		"no images":    "/v1_0/O/A/payStatement/abc",
		"not a pdf":    "/v1_0/O/A/payStatement/abc/images/def.png",
		"wrong prefix": "/v1_0/O/A/other/abc/images/def.pdf",
	} {
		t.Run(name, func(t *testing.T) {
			_, ok := ArtifactRefFor(models.RemoteRecord{"statementImageUri": href})
			assert.False(t, ok)
		})
	}
}

func TestSuffixedArtifactPath(t *testing.T) {
	a := SuffixedArtifactPath("2024-03-29", "REGULAR", "json")
	b := SuffixedArtifactPath("2024-03-29", "BONUS", "json")
	assert.Regexp(t, `^2024/03/2024-03-29_[0-9a-f]{8}\.json$`, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, SuffixedArtifactPath("2024-03-29", "REGULAR", "json"))
	assert.Regexp(t, `^unknown/unknown/unknown_[0-9a-f]{8}\.pdf$`, SuffixedArtifactPath(UnknownDate, "X", "pdf"))
	assert.Equal(t, "2024/03/2024-03-29_ab12cd34.pdf", SiblingPath("2024/03/2024-03-29_ab12cd34.json", "pdf"))
}

func TestArtifactPath(t *testing.T) {
	assert.Equal(t, "2024/03/2024-03-28.json", ArtifactPath("2024-03-28", "json"))
	assert.Equal(t, "2019/12/2019-12-20.pdf", ArtifactPath("2019-12-20", "pdf"))
	assert.Equal(t, "unknown/unknown/unknown.json", ArtifactPath(UnknownDate, "json"))
	assert.Equal(t, "unknown/unknown/28-03-2024.json", ArtifactPath("28-03-2024", "json"))
}

func TestFirstMatch_LeaveFieldVariants(t *testing.T) {
	rules := Fields("employeeName", "fullName", "FULLNAME")

	got, ok := FirstMatch(rules, models.RemoteRecord{"FULLNAME": "Ada Lovelace"})
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", got)

	_, ok = FirstMatch(rules, models.RemoteRecord{"name": "x"})
	assert.False(t, ok)
}
