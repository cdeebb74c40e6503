package parquet_accumulator

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danthegoodman1/rawsync/recordset"
	"github.com/xitongsys/parquet-go/writer"
)

type (
	ParquetSchemaAccumulator struct {
		schema ParquetSchema
	}

	ParquetSchema struct {
		TagStructs SchemaTag        `json:"-,omitempty"`
		Fields     []*ParquetSchema `json:",omitempty"`
	}

	ParquetJSONSchema struct {
		Tag    string               `json:",omitempty"`
		Fields []*ParquetJSONSchema `json:",omitempty"`
	}

	SchemaTag struct {
		Name           string         `json:"name,omitempty"`
		Type           string         `json:"type,omitempty"`
		ConvertedType  string         `json:"convertedtype,omitempty"`
		RepetitionType RepetitionType `json:"repetitiontype,omitempty"`
		Encoding       string         `json:"encoding,omitempty"`
	}

	RepetitionType string
)

var (
	Optional RepetitionType = "OPTIONAL"
	Required RepetitionType = "REQUIRED"
)

func NewParquetAccumulator() ParquetSchemaAccumulator {
	return ParquetSchemaAccumulator{
		schema: ParquetSchema{
			TagStructs: SchemaTag{
				Name:           "parquet_go_root",
				RepetitionType: Required,
			},
		},
	}
}

// WriteColumn adds a field for col unless one with the same name exists.
func (pa *ParquetSchemaAccumulator) WriteColumn(col recordset.Column) {
	name := fieldName(col.Name)
	if pa.fieldExists(name) {
		return
	}
	pa.schema.Fields = append(pa.schema.Fields, getParquetSchema(name, col.Kind))
}

func (pa *ParquetSchemaAccumulator) WriteRecordSet(rs *recordset.RecordSet) {
	for _, col := range rs.Columns() {
		pa.WriteColumn(col)
	}
}

func fieldName(col string) string {
	if col == "" {
		return col
	}
	return strings.ToUpper(col[:1]) + col[1:] // it can figure this out
}

// getParquetSchema maps a column kind to its Parquet type and converted type.
// Every field is optional since any column can hold nulls.
func getParquetSchema(name string, kind recordset.Kind) *ParquetSchema {
	schema := &ParquetSchema{
		TagStructs: SchemaTag{
			Name:           name,
			RepetitionType: Optional,
		},
	}
	switch kind {
	case recordset.KindInteger:
		schema.TagStructs.Type = "INT64"
	case recordset.KindFloat:
		schema.TagStructs.Type = "DOUBLE"
	case recordset.KindBoolean:
		schema.TagStructs.Type = "BOOLEAN"
	case recordset.KindTimestamp:
		schema.TagStructs.Type = "INT64"
		schema.TagStructs.ConvertedType = "TIMESTAMP_MILLIS"
	default:
		schema.TagStructs.Type = "BYTE_ARRAY"
		schema.TagStructs.ConvertedType = "UTF8"
		schema.TagStructs.Encoding = "PLAIN"
	}
	return schema
}

func (pa *ParquetSchemaAccumulator) fieldExists(fieldName string) (exists bool) {
	for _, field := range pa.schema.Fields {
		if field.TagStructs.Name == fieldName {
			return true
		}
	}
	return
}

func (pa *ParquetSchemaAccumulator) GetColumnNames() []string {
	var cols []string
	for _, field := range pa.schema.Fields {
		cols = append(cols, field.TagStructs.Name)
	}
	return cols
}

// ToParquetJSONSchema recursively converts
func (ps *ParquetSchema) ToParquetJSONSchema() *ParquetJSONSchema {
	var tagArr []string
	if ps.TagStructs.Type != "" {
		tagArr = append(tagArr, "type="+ps.TagStructs.Type)
	}
	if ps.TagStructs.ConvertedType != "" {
		tagArr = append(tagArr, "convertedtype="+ps.TagStructs.ConvertedType)
	}
	if ps.TagStructs.Encoding != "" {
		tagArr = append(tagArr, "encoding="+ps.TagStructs.Encoding)
	}
	if ps.TagStructs.Name != "" {
		tagArr = append(tagArr, "name="+ps.TagStructs.Name)
	}
	if string(ps.TagStructs.RepetitionType) != "" {
		tagArr = append(tagArr, "repetitiontype="+string(ps.TagStructs.RepetitionType))
	}
	var fields []*ParquetJSONSchema
	for _, field := range ps.Fields {
		fields = append(fields, field.ToParquetJSONSchema())
	}
	return &ParquetJSONSchema{
		Tag:    strings.Join(tagArr, ", "),
		Fields: fields,
	}
}

// GetSchemaString returns the JSON formatted schema string
func (pa *ParquetSchemaAccumulator) GetSchemaString() (string, error) {
	var fields []*ParquetJSONSchema
	for _, field := range pa.schema.Fields {
		fields = append(fields, field.ToParquetJSONSchema())
	}
	pjs := ParquetJSONSchema{
		Tag:    "name=parquet_go_root, repetitiontype=REQUIRED",
		Fields: fields,
	}

	b, err := json.Marshal(pjs)
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}

// WriteParquet encodes every row of rs as one Parquet file into w and returns the
// number of rows written. Timestamps are stored as unix milliseconds.
func WriteParquet(w io.Writer, rs *recordset.RecordSet) (int64, error) {
	pa := NewParquetAccumulator()
	pa.WriteRecordSet(rs)
	parquetSchema, err := pa.GetSchemaString()
	if err != nil {
		return 0, fmt.Errorf("error in GetSchemaString: %w", err)
	}

	pw, err := writer.NewJSONWriterFromWriter(parquetSchema, w, 4)
	if err != nil {
		return 0, fmt.Errorf("error in NewJSONWriterFromWriter: %w", err)
	}

	var numRows int64
	for i := 0; i < rs.Len(); i++ {
		row := rs.RowMap(i)
		for k, v := range row {
			if t, ok := v.(time.Time); ok {
				row[k] = t.UnixMilli()
			}
		}
		rowBytes, err := json.Marshal(row)
		if err != nil {
			return numRows, fmt.Errorf("error in json.Marshal of row %d: %w", i, err)
		}
		if err := pw.Write(string(rowBytes)); err != nil {
			return numRows, fmt.Errorf("error in pw.Write for row %d: %w", i, err)
		}
		numRows++
	}

	if err := pw.WriteStop(); err != nil {
		return numRows, fmt.Errorf("error in pw.WriteStop: %w", err)
	}
	return numRows, nil
}
