package main

import "github.com/ValentinKolb/dBroker/cmd"

func main() {
	cmd.Execute()
}
