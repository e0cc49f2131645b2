package slam

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedRecord is returned for a scan record that cannot be decoded
var ErrMalformedRecord = errors.New("malformed scan record")

// ScanSource supplies scans in order. ok is false at end of stream.
type ScanSource interface {
	LoadNext(ctx context.Context) (scan *Scan, ok bool, err error)
}

// ScanReader decodes LASERSCAN text records:
//
//	LASERSCAN id sec nsec n angle_deg range ... x y th_rad
//
// Lines of other record types are skipped.
type ScanReader struct {
	cfg     InputConfig
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
	count   int
}

// OpenScanFile opens a scan file for reading
func OpenScanFile(path string, cfg InputConfig) (*ScanReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening scan file: %w", err)
	}
	r := NewScanReader(f, cfg)
	r.closer = f
	return r, nil
}

// NewScanReader reads records from r
func NewScanReader(r io.Reader, cfg InputConfig) *ScanReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &ScanReader{cfg: cfg, scanner: sc}
}

// Close releases the underlying file, if any
func (r *ScanReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Skip discards up to n scan records and returns how many were skipped
func (r *ScanReader) Skip(ctx context.Context, n int) (int, error) {
	for i := 0; i < n; i++ {
		_, ok, err := r.LoadNext(ctx)
		if err != nil {
			return i, err
		}
		if !ok {
			return i, nil
		}
	}
	return n, nil
}

// LoadNext returns the next scan record
func (r *ScanReader) LoadNext(ctx context.Context) (*Scan, bool, error) {
	for r.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		r.line++
		fields := strings.Fields(r.scanner.Text())
		if len(fields) == 0 || fields[0] != "LASERSCAN" {
			continue
		}
		scan, err := r.parse(fields[1:])
		if err != nil {
			return nil, false, fmt.Errorf("line %d: %w", r.line, err)
		}
		scan.ID = r.count
		r.count++
		return scan, true, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("reading scan file: %w", err)
	}
	return nil, false, nil
}

func (r *ScanReader) parse(f []string) (*Scan, error) {
	if len(f) < 4 {
		return nil, fmt.Errorf("%w: short header", ErrMalformedRecord)
	}
	sec, err1 := strconv.ParseInt(f[1], 10, 64)
	nsec, err2 := strconv.ParseInt(f[2], 10, 64)
	n, err3 := strconv.Atoi(f[3])
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedRecord, err)
	}
	if n < 0 || len(f) != 4+2*n+3 {
		return nil, fmt.Errorf("%w: expected %d beams, got %d fields", ErrMalformedRecord, n, len(f))
	}

	vals := make([]float64, 2*n+3)
	for i := range vals {
		v, err := strconv.ParseFloat(f[4+i], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d: %v", ErrMalformedRecord, 4+i, err)
		}
		vals[i] = v
	}

	scan := &Scan{
		Timestamp: time.Unix(sec, nsec),
		Points:    make([]Point, 0, n),
	}
	for i := 0; i < n; i++ {
		angle, rng := vals[2*i]+r.cfg.AngleOffset, vals[2*i+1]
		if rng <= r.cfg.MinRange || (r.cfg.MaxRange > 0 && rng >= r.cfg.MaxRange) {
			continue
		}
		a := DegToRad(angle)
		scan.Points = append(scan.Points, Point{X: rng * math.Cos(a), Y: rng * math.Sin(a)})
	}
	o := vals[2*n:]
	scan.Odometry = NewPose(o[0], o[1], RadToDeg(o[2]))
	return scan, nil
}

// FormatScanRecord encodes a scan as a LASERSCAN line, the inverse of
// ScanReader for points in front of the sensor.
func FormatScanRecord(s *Scan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "LASERSCAN %d %d %d %d", s.ID, s.Timestamp.Unix(), s.Timestamp.Nanosecond(), len(s.Points))
	for _, p := range s.Points {
		fmt.Fprintf(&b, " %g %g", RadToDeg(math.Atan2(p.Y, p.X)), math.Hypot(p.X, p.Y))
	}
	fmt.Fprintf(&b, " %g %g %g", s.Odometry.Tx, s.Odometry.Ty, DegToRad(s.Odometry.Th))
	return b.String()
}
