package archive

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"elbetl/internal/elblog"
)

// Row matches the Glue table columns. dt is a partition, not a column.
type Row struct {
	LogTimestamp          int64   `parquet:"name=log_timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	ClientIP              string  `parquet:"name=client_ip, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	HTTPMethod            string  `parquet:"name=http_method, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	RequestedPath         string  `parquet:"name=requested_path, type=BYTE_ARRAY, convertedtype=UTF8"`
	ELBStatusCode         int32   `parquet:"name=elb_status_code, type=INT32"`
	BackendStatusCode     *int32  `parquet:"name=backend_status_code, type=INT32, repetitiontype=OPTIONAL"`
	TotalProcessingTimeMs float64 `parquet:"name=total_processing_time_ms, type=DOUBLE"`
	ReceivedBytes         int64   `parquet:"name=received_bytes, type=INT64"`
	SentBytes             int64   `parquet:"name=sent_bytes, type=INT64"`
	UserAgentFull         string  `parquet:"name=user_agent_full, type=BYTE_ARRAY, convertedtype=UTF8"`
	UABrowserFamily       string  `parquet:"name=ua_browser_family, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	UAOSFamily            string  `parquet:"name=ua_os_family, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	LogSourceFile         string  `parquet:"name=log_source_file, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
}

func toRow(r elblog.LogRecord) Row {
	row := Row{
		LogTimestamp:          r.LogTimestamp.UnixMilli(),
		ClientIP:              r.ClientIP,
		HTTPMethod:            r.HTTPMethod,
		RequestedPath:         r.RequestedPath,
		ELBStatusCode:         int32(r.ELBStatusCode),
		TotalProcessingTimeMs: r.TotalProcessingTimeMs,
		ReceivedBytes:         r.ReceivedBytes,
		SentBytes:             r.SentBytes,
		UserAgentFull:         r.UserAgentFull,
		UABrowserFamily:       r.UABrowserFamily,
		UAOSFamily:            r.UAOSFamily,
		LogSourceFile:         r.LogSourceFile,
	}
	if r.BackendStatusCode != nil {
		v := int32(*r.BackendStatusCode)
		row.BackendStatusCode = &v
	}
	return row
}

type partition struct {
	dt   string // YYYY-MM-DD
	rows []Row
}

// partitionByDate groups records by the date of their (local) timestamp,
// oldest date first. Record order is kept inside a partition.
func partitionByDate(records []elblog.LogRecord) []partition {
	idx := map[string]int{}
	var parts []partition
	for _, r := range records {
		dt := r.LogTimestamp.Format("2006-01-02")
		i, ok := idx[dt]
		if !ok {
			i = len(parts)
			idx[dt] = i
			parts = append(parts, partition{dt: dt})
		}
		parts[i].rows = append(parts[i].rows, toRow(r))
	}
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].dt < parts[j].dt })
	return parts
}

// WriteFile writes rows to a local Parquet file.
func WriteFile(path string, rows []Row) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("parquet file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(Row), 1)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return fmt.Errorf("parquet write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet write stop: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("parquet close: %w", err)
	}
	return nil
}

// encode renders rows through a temp file and returns the Parquet bytes.
func encode(rows []Row) ([]byte, error) {
	path := filepath.Join(os.TempDir(), "elb_archive_"+randHex(8)+".parquet")
	defer func() { _ = os.Remove(path) }()

	if err := WriteFile(path, rows); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parquet tmp: %w", err)
	}
	return data, nil
}

func randHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
