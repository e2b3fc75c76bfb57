package conda

// buildCreateArgs builds the argument list for creating an environment.
func buildCreateArgs(prefix string, specs, channels, extra []string) []string {
	args := []string{"create", "-y", "--prefix", prefix}
	args = append(args, channelArgs(channels)...)
	args = append(args, extra...)
	args = append(args, specs...)
	return args
}

// buildInstallArgs builds the argument list for installing into an
// existing environment.
func buildInstallArgs(prefix string, specs, channels, extra []string) []string {
	args := []string{"install", "-y", "--prefix", prefix}
	args = append(args, channelArgs(channels)...)
	args = append(args, extra...)
	args = append(args, specs...)
	return args
}

// buildRemoveArgs builds the argument list for removing an entire
// environment.
func buildRemoveArgs(prefix string, extra []string) []string {
	args := []string{"remove", "--all", "-y", "--prefix", prefix}
	args = append(args, extra...)
	return args
}

// buildListArgs builds the argument list for listing installed packages.
func buildListArgs(prefix string) []string {
	return []string{"list", "--prefix", prefix, "--json"}
}

// buildInfoArgs builds the argument list for querying package-manager info.
func buildInfoArgs() []string {
	return []string{"info", "--json"}
}

func channelArgs(channels []string) []string {
	args := make([]string, 0, len(channels)*2)
	for _, channel := range channels {
		args = append(args, "-c", channel)
	}
	return args
}
