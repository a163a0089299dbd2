// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds9097_test

import (
	"fmt"
	"log"

	"github.com/briandorey/Nest-to-1-wire-bridge/ds9097"
)

func Example() {
	d, err := ds9097.New("/dev/ttyUSB0", &ds9097.DefaultOpts)
	if err != nil {
		log.Fatal(err)
	}
	defer d.Close()

	present, err := d.Reset()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s: presence %t\n", d, present)
}
