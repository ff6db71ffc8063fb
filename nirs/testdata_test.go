package nirs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tormoder/fit"
)

// rawRow is one data line of an oximeter export: time of day, rSO2, poor signal.
type rawRow [3]string

func writeRawCSV(t *testing.T, dir, name, date string, rows []rawRow) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Patient ID,anon\n")
	fmt.Fprintf(&b, "Start Date,%s\n", date)
	b.WriteString("Device,INVOS 5100C\n")
	b.WriteString("Channel,1\n")
	b.WriteString("Export,v2\n")
	b.WriteString("Time,rSO2 (%),Poor Signal Quality,Event\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%s,%s,%s,\n", r[0], r[1], r[2])
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

// corrRow is one correction line: mark, discard.
type corrRow [2]string

func writeCorrections(t *testing.T, dir, name string, rows []corrRow) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Time;rSO2;Mark;HuonoSignaali2\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "01012023;60;%s;%s\n", r[0], r[1])
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func cleanCorrections(n int) []corrRow {
	out := make([]corrRow, n)
	for i := range out {
		out[i] = corrRow{"0", "0"}
	}
	return out
}

func steadyRows(start string, n int, value string) []rawRow {
	out := make([]rawRow, n)
	for i := range out {
		out[i] = rawRow{start, value, "0"}
	}
	return out
}

// writeRawFIT encodes saturation readings (in 0.1 % units) as FIT records.
func writeRawFIT(t *testing.T, dir, name string, start time.Time, sat []uint16) string {
	t.Helper()
	header := fit.NewHeader(fit.V20, true)
	file, err := fit.NewFile(fit.FileTypeActivity, header)
	require.NoError(t, err)
	activity, err := file.Activity()
	require.NoError(t, err)

	for i, v := range sat {
		rec := fit.NewRecordMsg()
		rec.Timestamp = start.Add(time.Duration(i) * time.Second)
		rec.SaturatedHemoglobinPercent = v
		activity.Records = append(activity.Records, rec)
	}

	var buf bytes.Buffer
	require.NoError(t, fit.Encode(&buf, file, binary.LittleEndian))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}
