package kvm

import "fmt"

// Capability identifies an optional KVM feature, checked via CheckExtension.
//
//go:generate stringer -type=Capability
type Capability uintptr

// Capability values, in the order the kernel assigns them in <linux/kvm.h>.
// Only CapSyncMMU, CapUserMemory and CapSetTSSAddr are checked by this
// module (partition, guestmem and the probe subcommand); the rest are
// carried so that String names them.
const (
	CapIRQChip Capability = iota
	CapHLT
	CapMMUShadowCacheControl
	CapUserMemory
	CapSetTSSAddr
	capReserved5
	CapVAPIC
	CapExtCPUID
	CapClockSource
	CapNRVCPUs
	CapNRMemSlots
	CapPIT
	CapNOPIODelay
	CapPVMMU
	CapMPState
	CapCoalescedMMIO
	CapSyncMMU
	capReserved17
	CapIOMMU
)

const (
	CapGETMSRFeatures Capability = 0x69
	CapVCPUEvents     Capability = 41
	CapXCRS           Capability = 56
	CapIRQRouting     Capability = 25
	CapKVMClockCtrl   Capability = 76
)

func (c Capability) String() string {
	switch c {
	case CapIRQChip:
		return "CapIRQChip"
	case CapHLT:
		return "CapHLT"
	case CapMMUShadowCacheControl:
		return "CapMMUShadowCacheControl"
	case CapUserMemory:
		return "CapUserMemory"
	case CapSetTSSAddr:
		return "CapSetTSSAddr"
	case CapVAPIC:
		return "CapVAPIC"
	case CapExtCPUID:
		return "CapExtCPUID"
	case CapClockSource:
		return "CapClockSource"
	case CapNRVCPUs:
		return "CapNRVCPUs"
	case CapNRMemSlots:
		return "CapNRMemSlots"
	case CapPIT:
		return "CapPIT"
	case CapNOPIODelay:
		return "CapNOPIODelay"
	case CapPVMMU:
		return "CapPVMMU"
	case CapMPState:
		return "CapMPState"
	case CapCoalescedMMIO:
		return "CapCoalescedMMIO"
	case CapSyncMMU:
		return "CapSyncMMU"
	case CapIOMMU:
		return "CapIOMMU"
	case CapIRQRouting:
		return "CapIRQRouting"
	case CapGETMSRFeatures:
		return "CapGETMSRFeatures"
	case CapVCPUEvents:
		return "CapVCPUEvents"
	case CapXCRS:
		return "CapXCRS"
	case CapKVMClockCtrl:
		return "CapKVMClockCtrl"
	default:
		return fmt.Sprintf("Capability(%d)", c)
	}
}
