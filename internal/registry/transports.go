package registry

import (
	_ "github.com/Alia5/MicroKB/transport/gadget"   // Register USB HID gadget transport
	_ "github.com/Alia5/MicroKB/transport/sim"      // Register simulated wired transport
	_ "github.com/Alia5/MicroKB/transport/wireless" // Register wireless transport
)
