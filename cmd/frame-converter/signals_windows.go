package main

import "os"

// Windows has no user signals; pause is available through the serve API.
var pauseSignals []os.Signal
