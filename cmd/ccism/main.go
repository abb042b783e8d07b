/*
Copyright © 2019 the CCISM authors.
This file is part of CCISM.

CCISM is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

CCISM is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with CCISM.  If not, see <http://www.gnu.org/licenses/>.
*/

// Command ccism converts ESA CCI soil moisture images to time series.
package main

import (
	"fmt"
	"os"

	"github.com/spatialmodel/ccism/ccismutil"
)

func main() {
	if err := ccismutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
