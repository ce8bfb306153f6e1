package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV_Bulls(t *testing.T) {
	input := "id,class,count,score\nB1,sexed,2,90\nB2,conventional,3,80\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "class", "count", "score"}, rows[0])
	assert.Equal(t, []string{"B2", "conventional", "3", "80"}, rows[2])
}

func TestReadCSV_TabDelimited(t *testing.T) {
	input := "id\tgroup\tscore\nK1\tcycle 1\t70\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{Delimiter: '\t'})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"K1", "cycle 1", "70"}, rows[1])
}

func TestReadCSV_TrimAndSkipBlank(t *testing.T) {
	input := " id , group \n , \n K1 , cycle 2 \n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{
		TrimSpace: true,
		SkipBlank: true,
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "group"}, {"K1", "cycle 2"}}, rows)
}

func TestReadCSV_BlankRowsKeptByDefault(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("id,group\n,\nK1,cycle 1\n"), CSVOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestReadCSV_RaggedRows(t *testing.T) {
	input := "cow_id,bull_id,risk,BLAD\nK1,B1\nK2,B1,0.02,carrier\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Len(t, rows[1], 2)
	assert.Len(t, rows[2], 4)
}

func TestReadCSV_LazyQuotes(t *testing.T) {
	input := "id,name\nB1,Pine \"Star\" ET\n"
	_, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	require.Error(t, err)

	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{LazyQuotes: true})
	require.NoError(t, err)
	assert.Equal(t, `Pine "Star" ET`, rows[1][1])
}

func TestReadCSV_Comment(t *testing.T) {
	input := "# exported 2026-03-01\nid,group\nK1,cycle 1\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{Comment: '#'})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "group"}, {"K1", "cycle 1"}}, rows)
}

func TestReadCSV_StripsBOM(t *testing.T) {
	input := "\uFEFFid,group\nK1,cycle 1\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "id", rows[0][0])
}

func TestReadCSV_ErrorKeepsEarlierRows(t *testing.T) {
	input := "id,count\nB1,2\n\"B2,3\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read record")
	assert.NotEmpty(t, rows)
}

func TestReadCSV_Empty(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStreamCSV_Cancelled(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("id,group,score\n")
	for range 5000 {
		sb.WriteString("K,cycle 1,70\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{})

	n := 0
	for range rowCh {
		n++
		if n == 3 {
			cancel()
			break
		}
	}
	for range rowCh {
	}

	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}

func TestStreamCSV_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows, err := ReadCSV(ctx, strings.NewReader("id\nK1\n"), CSVOptions{})
	require.Error(t, err)
	assert.Empty(t, rows)
}
