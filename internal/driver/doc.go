// Package driver provisions patched chromedriver binaries.
//
// A Provisioner resolves which driver version the host needs, makes sure a
// patched base binary of that version sits in the cache, and hands each
// automation session its own copy of it.
//
// # Layout
//
// Everything lives under one cache root:
//
//	<root>/base_driver     patched canonical binary (".exe" on Windows)
//	<root>/version         full version string of base_driver
//	<root>/instances/<id>  per-session copies
//	<root>/locks/          cross-process lock files
//
// # Concurrency
//
// Only fetch, extract, patch and publish of the base binary run under the
// "base" lock. Issuing an instance is a plain copy of an already published
// file and takes no lock.
//
// # Usage
//
//	p, err := driver.NewProvisioner(driver.Config{CacheRoot: root, Target: target})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	inst, err := p.Acquire(ctx, driver.Options{})
//	if err != nil {
//	    return err
//	}
//	defer inst.Release()
package driver
