package ioctlnr

import "testing"

func TestIOWMatchesKnownConstant(t *testing.T) {
	// KSU_IOCTL_ADD_TRY_UMOUNT = _iow('K', 18, 0)
	got := IOW(uint32('K'), 18, 0)
	want := uint32(0x40004B12)
	if got != want {
		t.Fatalf("IOW('K', 18, 0) = 0x%08X, want 0x%08X", got, want)
	}
}

func TestIODoesNotSetSizeOrDirectionBits(t *testing.T) {
	got := IO(0xE0, 5)
	if got>>dirShift != DirNone {
		t.Fatalf("IO() set a direction bit: 0x%08X", got)
	}
	if (got>>sizeShift)&(1<<sizeBits-1) != 0 {
		t.Fatalf("IO() set a size bit: 0x%08X", got)
	}
}

func TestIORSetsReadDirection(t *testing.T) {
	got := IOR(0xE0, 6, 4)
	if (got>>dirShift)&DirReadWrite != DirRead {
		t.Fatalf("IOR() direction bits = %d, want %d", (got>>dirShift)&DirReadWrite, DirRead)
	}
}
