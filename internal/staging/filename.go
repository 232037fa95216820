package staging

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/logship/pkg/apperror"
)

// Name is the parsed form of a staging file's on-disk filename, which
// encodes everything needed to group and recover it without opening
// the file: <hostname>.<stream>.<minute>.<customparts>.<fingerprint>.<ulid>.part
type Name struct {
	Hostname    string
	Stream      string
	Minute      int64 // unix minute bucket
	CustomParts []string
	Fingerprint uint64
	ULID        string
}

const partExt = ".part"

// customPartSeparator must not collide with characters legal in a
// partition value; values are sanitized at ingest time (see
// sanitizePartValue) so '_' is always safe as a join character.
const customPartSeparator = "_"

func (n Name) String() string {
	customs := strings.Join(n.CustomParts, customPartSeparator)
	if customs == "" {
		customs = "-"
	}
	return fmt.Sprintf("%s.%s.%d.%s.%d.%s%s",
		n.Hostname, n.Stream, n.Minute, customs, n.Fingerprint, n.ULID, partExt)
}

// ParseName decodes a staging filename produced by Name.String. It
// returns an error if the filename does not have exactly the expected
// number of dot-delimited fields.
func ParseName(filename string) (Name, error) {
	base := strings.TrimSuffix(filename, partExt)
	if base == filename {
		return Name{}, apperror.New(apperror.KindStagingCorrupt, "missing .part extension: "+filename)
	}

	fields := strings.Split(base, ".")
	if len(fields) != 6 {
		return Name{}, apperror.New(apperror.KindStagingCorrupt, "malformed staging filename: "+filename)
	}

	minute, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Name{}, apperror.Wrap(apperror.KindStagingCorrupt, "bad minute bucket in "+filename, err)
	}
	fingerprint, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return Name{}, apperror.Wrap(apperror.KindStagingCorrupt, "bad fingerprint in "+filename, err)
	}

	var customs []string
	if fields[3] != "-" {
		customs = strings.Split(fields[3], customPartSeparator)
	}

	return Name{
		Hostname:    fields[0],
		Stream:      fields[1],
		Minute:      minute,
		CustomParts: customs,
		Fingerprint: fingerprint,
		ULID:        fields[5],
	}, nil
}

// sanitizePartValue strips characters that would break filename
// parsing (the field separators themselves) from a partition value
// taken directly from record data.
func sanitizePartValue(v string) string {
	v = strings.ReplaceAll(v, ".", "-")
	v = strings.ReplaceAll(v, customPartSeparator, "-")
	if v == "" {
		return "_"
	}
	return v
}

// groupKey identifies the (stream, minute, customparts, fingerprint)
// tuple that determines which Open file a record batch's rows belong
// to. At most one Open StagingFile may exist per groupKey per process.
type groupKey struct {
	stream      string
	minute      int64
	customParts string // CustomParts already joined, for map-key use
	fingerprint uint64
}
