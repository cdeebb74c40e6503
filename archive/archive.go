package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/danthegoodman1/rawsync/fetcher"
	"github.com/danthegoodman1/rawsync/parquet_accumulator"
	"github.com/danthegoodman1/rawsync/partitioner"
	"github.com/danthegoodman1/rawsync/recordset"
	"github.com/danthegoodman1/rawsync/utils"
	"github.com/rs/zerolog"
)

type (
	// Uploader is satisfied by *s3_helper.Client.
	Uploader interface {
		WriteBytesToS3(ctx context.Context, fileName string, byteStream io.Reader, contentType *string) (*s3manager.UploadOutput, error)
	}

	// S3Archiver writes a Parquet snapshot of each synced record set to
	// ns=<entity>/<partition>/<ksuid>.parquet.
	S3Archiver struct {
		Uploader   Uploader
		Partitions []partitioner.PartitionPlan
	}
)

var DefaultPartitions = []partitioner.PartitionPlan{
	{Func: "toYear", Args: []string{fetcher.ModifiedTimeColumn}, As: "y"},
	{Func: "toMonth", Args: []string{fetcher.ModifiedTimeColumn}, As: "m"},
	{Func: "toDay", Args: []string{fetcher.ModifiedTimeColumn}, As: "d"},
}

func NewS3Archiver(u Uploader) *S3Archiver {
	return &S3Archiver{
		Uploader:   u,
		Partitions: DefaultPartitions,
	}
}

// Archive uploads rs and returns the object key. Every row of a fetch shares one
// modifiedtime, so the first row decides the partition. Empty sets are skipped.
func (a *S3Archiver) Archive(ctx context.Context, entity string, rs *recordset.RecordSet) (string, error) {
	logger := zerolog.Ctx(ctx)
	if rs.Empty() {
		logger.Debug().Str("entity", entity).Msg("nothing to archive")
		return "", nil
	}

	part, err := partitioner.GetRowPartition(rs.RowMap(0), a.Partitions)
	if err != nil {
		return "", fmt.Errorf("error in GetRowPartition: %w", err)
	}

	s := time.Now()
	var b bytes.Buffer
	numRows, err := parquet_accumulator.WriteParquet(&b, rs)
	if err != nil {
		return "", fmt.Errorf("error in WriteParquet: %w", err)
	}
	byteLen := b.Len()

	key := fmt.Sprintf("ns=%s/%s/%s.parquet", entity, part, utils.GenKSortedID(""))
	_, err = a.Uploader.WriteBytesToS3(ctx, key, &b, aws.String("application/octet-stream"))
	if err != nil {
		return "", fmt.Errorf("error in WriteBytesToS3: %w", err)
	}

	logger.Info().Str("key", key).Int64("rows", numRows).Int("bytes", byteLen).Dur("took", time.Since(s)).Msg("archived snapshot")
	return key, nil
}
