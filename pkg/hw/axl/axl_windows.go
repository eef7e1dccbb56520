//go:build windows

package axl

import (
	"fmt"
	"math"
	"unsafe"

	"golang.org/x/sys/windows"
)

// library wraps AXL.dll. The DLL is loaded lazily so construction never
// fails; the first call surfaces a missing DLL.
type library struct {
	dll *windows.LazyDLL

	axlOpen          *windows.LazyProc
	axlClose         *windows.LazyProc
	axlIsOpened      *windows.LazyProc
	axlGetBoardCount *windows.LazyProc

	axmInfoGetAxisCount *windows.LazyProc
	axmSignalServoOn    *windows.LazyProc
	axmHomeSetStart     *windows.LazyProc
	axmHomeGetResult    *windows.LazyProc
	axmMoveStartPos     *windows.LazyProc
	axmMoveStop         *windows.LazyProc
	axmMoveEStop        *windows.LazyProc
	axmStatusReadInMot  *windows.LazyProc
	axmStatusGetActPos  *windows.LazyProc
	axmStatusSetActPos  *windows.LazyProc
	axmStatusSetCmdPos  *windows.LazyProc

	axdiReadInportBit    *windows.LazyProc
	axdiReadInportDword  *windows.LazyProc
	axdoWriteOutportBit  *windows.LazyProc
	axdoWriteOutportDwrd *windows.LazyProc
}

// Load binds AXL.dll.
func Load() (Library, error) {
	dll := windows.NewLazySystemDLL("AXL.dll")

	l := &library{
		dll:                  dll,
		axlOpen:              dll.NewProc("AxlOpen"),
		axlClose:             dll.NewProc("AxlClose"),
		axlIsOpened:          dll.NewProc("AxlIsOpened"),
		axlGetBoardCount:     dll.NewProc("AxlGetBoardCount"),
		axmInfoGetAxisCount:  dll.NewProc("AxmInfoGetAxisCount"),
		axmSignalServoOn:     dll.NewProc("AxmSignalServoOn"),
		axmHomeSetStart:      dll.NewProc("AxmHomeSetStart"),
		axmHomeGetResult:     dll.NewProc("AxmHomeGetResult"),
		axmMoveStartPos:      dll.NewProc("AxmMoveStartPos"),
		axmMoveStop:          dll.NewProc("AxmMoveStop"),
		axmMoveEStop:         dll.NewProc("AxmMoveEStop"),
		axmStatusReadInMot:   dll.NewProc("AxmStatusReadInMotion"),
		axmStatusGetActPos:   dll.NewProc("AxmStatusGetActPos"),
		axmStatusSetActPos:   dll.NewProc("AxmStatusSetActPos"),
		axmStatusSetCmdPos:   dll.NewProc("AxmStatusSetCmdPos"),
		axdiReadInportBit:    dll.NewProc("AxdiReadInportBit"),
		axdiReadInportDword:  dll.NewProc("AxdiReadInportDword"),
		axdoWriteOutportBit:  dll.NewProc("AxdoWriteOutportBit"),
		axdoWriteOutportDwrd: dll.NewProc("AxdoWriteOutportDword"),
	}

	if err := dll.Load(); err != nil {
		return nil, fmt.Errorf("loading AXL.dll: %w", err)
	}

	return l, nil
}

func (l *library) Open(irqNo int) error {
	code, _, _ := l.axlOpen.Call(uintptr(irqNo))

	return codeError("AxlOpen", uint32(code))
}

func (l *library) Close() error {
	code, _, _ := l.axlClose.Call()

	return codeError("AxlClose", uint32(code))
}

func (l *library) IsOpened() bool {
	opened, _, _ := l.axlIsOpened.Call()

	return opened == 1
}

func (l *library) BoardCount() (int, error) {
	var count int32

	code, _, _ := l.axlGetBoardCount.Call(uintptr(unsafe.Pointer(&count)))
	if err := codeError("AxlGetBoardCount", uint32(code)); err != nil {
		return 0, err
	}

	return int(count), nil
}

func (l *library) AxisCount() (int, error) {
	var count int32

	code, _, _ := l.axmInfoGetAxisCount.Call(uintptr(unsafe.Pointer(&count)))
	if err := codeError("AxmInfoGetAxisCount", uint32(code)); err != nil {
		return 0, err
	}

	return int(count), nil
}

func (l *library) ServoOn(axis int, on bool) error {
	var flag uintptr
	if on {
		flag = 1
	}

	code, _, _ := l.axmSignalServoOn.Call(uintptr(axis), flag)

	return codeError("AxmSignalServoOn", uint32(code))
}

func (l *library) HomeSetStart(axis int) error {
	code, _, _ := l.axmHomeSetStart.Call(uintptr(axis))

	return codeError("AxmHomeSetStart", uint32(code))
}

func (l *library) HomeResult(axis int) (int, error) {
	var result uint32

	code, _, _ := l.axmHomeGetResult.Call(uintptr(axis), uintptr(unsafe.Pointer(&result)))
	if err := codeError("AxmHomeGetResult", uint32(code)); err != nil {
		return 0, err
	}

	return int(result), nil
}

func (l *library) MoveStartPos(axis int, position, velocity, accel, decel float64) error {
	code, _, _ := l.axmMoveStartPos.Call(
		uintptr(axis),
		uintptr(math.Float64bits(position)),
		uintptr(math.Float64bits(velocity)),
		uintptr(math.Float64bits(accel)),
		uintptr(math.Float64bits(decel)),
	)

	return codeError("AxmMoveStartPos", uint32(code))
}

func (l *library) MoveStop(axis int, decel float64) error {
	code, _, _ := l.axmMoveStop.Call(uintptr(axis), uintptr(math.Float64bits(decel)))

	return codeError("AxmMoveStop", uint32(code))
}

func (l *library) MoveEStop(axis int) error {
	code, _, _ := l.axmMoveEStop.Call(uintptr(axis))

	return codeError("AxmMoveEStop", uint32(code))
}

func (l *library) InMotion(axis int) (bool, error) {
	var moving uint32

	code, _, _ := l.axmStatusReadInMot.Call(uintptr(axis), uintptr(unsafe.Pointer(&moving)))
	if err := codeError("AxmStatusReadInMotion", uint32(code)); err != nil {
		return false, err
	}

	return moving == 1, nil
}

func (l *library) ActualPosition(axis int) (float64, error) {
	var position float64

	code, _, _ := l.axmStatusGetActPos.Call(uintptr(axis), uintptr(unsafe.Pointer(&position)))
	if err := codeError("AxmStatusGetActPos", uint32(code)); err != nil {
		return 0, err
	}

	return position, nil
}

func (l *library) SetActualPosition(axis int, position float64) error {
	code, _, _ := l.axmStatusSetActPos.Call(uintptr(axis), uintptr(math.Float64bits(position)))

	return codeError("AxmStatusSetActPos", uint32(code))
}

func (l *library) SetCommandPosition(axis int, position float64) error {
	code, _, _ := l.axmStatusSetCmdPos.Call(uintptr(axis), uintptr(math.Float64bits(position)))

	return codeError("AxmStatusSetCmdPos", uint32(code))
}

func (l *library) ReadInputBit(module, offset int) (bool, error) {
	var level uint32

	code, _, _ := l.axdiReadInportBit.Call(uintptr(module), uintptr(offset), uintptr(unsafe.Pointer(&level)))
	if err := codeError("AxdiReadInportBit", uint32(code)); err != nil {
		return false, err
	}

	return level == 1, nil
}

func (l *library) ReadInputDword(module int) (uint32, error) {
	var word uint32

	code, _, _ := l.axdiReadInportDword.Call(uintptr(module), 0, uintptr(unsafe.Pointer(&word)))
	if err := codeError("AxdiReadInportDword", uint32(code)); err != nil {
		return 0, err
	}

	return word, nil
}

func (l *library) WriteOutputBit(module, offset int, on bool) error {
	var level uintptr
	if on {
		level = 1
	}

	code, _, _ := l.axdoWriteOutportBit.Call(uintptr(module), uintptr(offset), level)

	return codeError("AxdoWriteOutportBit", uint32(code))
}

func (l *library) WriteOutputDword(module int, word uint32) error {
	code, _, _ := l.axdoWriteOutportDwrd.Call(uintptr(module), 0, uintptr(word))

	return codeError("AxdoWriteOutportDword", uint32(code))
}
