// main.go

package main

import "github.com/ICRAR/fabtemplate/cmd"

func main() {
	cmd.Execute()
}
