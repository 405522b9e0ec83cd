package spuctrl

import "testing"

// coveredBytes returns the set of host addresses touched by a DMA batch,
// and fails the test if any transfer violates the alignment constraints
// spec.md §8 property 3 requires (4-byte alignment for 4-byte transfers,
// 16-byte alignment for transfers of 16 bytes or more).
func coveredBytes(t *testing.T, xfers []dmaXfer) map[uint32]bool {
	t.Helper()
	covered := make(map[uint32]bool)
	for _, x := range xfers {
		if x.length >= 16 {
			if x.hostAddr%16 != 0 {
				t.Errorf("transfer of %d bytes at 0x%x is not 16-byte aligned", x.length, x.hostAddr)
			}
		} else if x.hostAddr%4 != 0 {
			t.Errorf("transfer of %d bytes at 0x%x is not 4-byte aligned", x.length, x.hostAddr)
		}
		for i := 0; i < x.length; i++ {
			addr := x.hostAddr + uint32(i)
			if covered[addr] {
				t.Errorf("address 0x%x covered by more than one transfer", addr)
			}
			covered[addr] = true
		}
	}
	return covered
}

func TestExtendDownCoversExactRange(t *testing.T) {
	cases := []struct {
		name               string
		newStart, oldStart uint32
	}{
		{"already aligned both ends", 0x1000, 0x1010},
		{"unaligned head, spec scenario E bounds", 0x0FF4, 0x1008},
		{"one word short of aligned", 0x0FFC, 0x1008},
		{"no extension needed", 0x1008, 0x1008},
		{"tiny 4 byte gap", 0x1004, 0x1008},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			xfers := extendDown(c.newStart, c.oldStart)
			covered := coveredBytes(t, xfers)
			if c.newStart >= c.oldStart {
				if len(covered) != 0 {
					t.Errorf("expected no transfers when newStart >= oldStart")
				}
				return
			}
			want := int(c.oldStart - c.newStart)
			if len(covered) != want {
				t.Errorf("covered %d bytes, want %d", len(covered), want)
			}
			for a := c.newStart; a < c.oldStart; a++ {
				if !covered[a] {
					t.Errorf("address 0x%x not covered", a)
				}
			}
		})
	}
}

func TestExtendUpCoversExactRange(t *testing.T) {
	cases := []struct {
		name           string
		newEnd, oldEnd uint32
	}{
		{"already aligned both ends", 0x1020, 0x1010},
		{"unaligned tail, spec scenario E bounds", 0x1024, 0x1010},
		{"one word short of aligned", 0x101C, 0x1010},
		{"no extension needed", 0x1010, 0x1010},
		{"tiny 4 byte gap", 0x1014, 0x1010},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			xfers := extendUp(c.newEnd, c.oldEnd)
			covered := coveredBytes(t, xfers)
			if c.newEnd <= c.oldEnd {
				if len(covered) != 0 {
					t.Errorf("expected no transfers when newEnd <= oldEnd")
				}
				return
			}
			want := int(c.newEnd - c.oldEnd)
			if len(covered) != want {
				t.Errorf("covered %d bytes, want %d", len(covered), want)
			}
			for a := c.oldEnd; a < c.newEnd; a++ {
				if !covered[a] {
					t.Errorf("address 0x%x not covered", a)
				}
			}
		})
	}
}

func TestAlignHelpers(t *testing.T) {
	if !align4(0x1000) || align4(0x1001) {
		t.Fatal("align4 wrong")
	}
	if !align16(0x1000) || align16(0x1004) {
		t.Fatal("align16 wrong")
	}
	if floor16(0x1007) != 0x1000 {
		t.Fatalf("floor16(0x1007) = 0x%x, want 0x1000", floor16(0x1007))
	}
	if ceil16(0x1001) != 0x1010 {
		t.Fatalf("ceil16(0x1001) = 0x%x, want 0x1010", ceil16(0x1001))
	}
	if ceil16(0x1000) != 0x1000 {
		t.Fatalf("ceil16(0x1000) = 0x%x, want 0x1000", ceil16(0x1000))
	}
}
