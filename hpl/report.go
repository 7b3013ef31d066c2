/*
   minihpl - Distributed dense linear system solver
   Copyright (C) 2012-2014  Casey Marshall

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published by
   the Free Software Foundation, version 3.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

package hpl

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

// Report summarizes a run. It is produced on rank 0.
type Report struct {
	Started     time.Time      `json:"started"`
	N           int            `json:"n"`
	NB          int            `json:"nb"`
	Procs       int            `json:"procs"`
	LocalRows   int            `json:"localRows"`
	Elimination time.Duration  `json:"elimination"`
	Total       time.Duration  `json:"total"`
	GFLOPS      float64        `json:"gflops"`
	Verify      VerifyStrategy `json:"verify"`
	Residual
}

// GFLOPS estimates the elimination rate from the 2/3·N³ operation count.
// Communication and back substitution are not counted.
func GFLOPS(n int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	fn := float64(n)
	return 2.0 / 3.0 * fn * fn * fn / (elapsed.Seconds() * 1e9)
}

// Status returns the verdict line of the report.
func (r *Report) Status() string {
	if r.Passed {
		return fmt.Sprintf("PASSED (r < %d)", PassThreshold)
	}
	return fmt.Sprintf("FAILED (r >= %d)", PassThreshold)
}

// WriteTo writes the human-readable report block to w.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	const rule = "========================================\n"
	const sep = "----------------------------------------\n"
	buf := bytes.NewBuffer(nil)
	buf.WriteString("\n" + rule)
	buf.WriteString("  Mini-HPL results\n")
	buf.WriteString(rule)
	fmt.Fprintf(buf, "  N                 = %d\n", r.N)
	fmt.Fprintf(buf, "  NB                = %d\n", r.NB)
	fmt.Fprintf(buf, "  Processes         = %d\n", r.Procs)
	fmt.Fprintf(buf, "  Rows per process  = %d\n", r.LocalRows)
	buf.WriteString(sep)
	fmt.Fprintf(buf, "  Elimination time  = %.4f s\n", r.Elimination.Seconds())
	fmt.Fprintf(buf, "  Total time        = %.4f s\n", r.Total.Seconds())
	fmt.Fprintf(buf, "  GFLOPS (approx.)  = %.4f\n", r.GFLOPS)
	buf.WriteString("  (2/3 N^3 model, communication ignored)\n")
	buf.WriteString(sep)
	fmt.Fprintf(buf, "  ||Ax-b||_inf      = %.2e\n", r.ResidualNorm)
	fmt.Fprintf(buf, "  ||A||_inf         = %.2e\n", r.MatrixNorm)
	fmt.Fprintf(buf, "  ||x||_inf         = %.2e\n", r.XNorm)
	fmt.Fprintf(buf, "  Normalized resid. = %.2e\n", r.Normalized)
	fmt.Fprintf(buf, "  Status: %s\n", r.Status())
	buf.WriteString(rule + "\n")
	return buf.WriteTo(w)
}
