// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package checksum

// DiscoverySeed is the initial value of the checksum carried by a
// DISC_UNIQUE_BRANCH response (six 0xFF bytes already summed).
const DiscoverySeed uint16 = 6 * 0xFF

// Checksum is the 16-bit additive checksum used by RDM frames.
// The zero value is ready to use.
type Checksum struct {
	sum uint16
}

// Reset clears the accumulator.
func (c *Checksum) Reset() *Checksum {
	c.sum = 0
	return c
}

// Seed sets the accumulator to v.
func (c *Checksum) Seed(v uint16) *Checksum {
	c.sum = v
	return c
}

// PushBytes adds every byte of data, wrapping at 16 bits.
func (c *Checksum) PushBytes(data []byte) *Checksum {
	for _, b := range data {
		c.sum += uint16(b)
	}
	return c
}

// Value returns the current sum.
func (c *Checksum) Value() uint16 {
	return c.sum
}
